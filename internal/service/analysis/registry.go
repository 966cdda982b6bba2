package analysis

import (
	"sync"

	"github.com/google/uuid"

	"github.com/clinsight/backend/internal/gateway"
	"github.com/clinsight/backend/internal/service/conversation"
)

// Registry hands out one orchestrator per dashboard workspace, so each active
// browser session owns its analysis state instead of sharing ambient globals.
type Registry struct {
	gw gateway.Gateway

	mu         sync.RWMutex
	workspaces map[string]*Orchestrator
}

// NewRegistry builds an empty registry backed by the shared gateway.
func NewRegistry(gw gateway.Gateway) *Registry {
	return &Registry{
		gw:         gw,
		workspaces: make(map[string]*Orchestrator),
	}
}

// Create provisions a fresh workspace and returns its identifier.
func (r *Registry) Create() (string, *Orchestrator) {
	id := uuid.NewString()
	orchestrator := NewOrchestrator(r.gw, conversation.NewManager(r.gw))

	r.mu.Lock()
	r.workspaces[id] = orchestrator
	r.mu.Unlock()
	return id, orchestrator
}

// Get looks up a workspace by identifier.
func (r *Registry) Get(id string) (*Orchestrator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	orchestrator, ok := r.workspaces[id]
	return orchestrator, ok
}

// Remove drops a workspace; in-flight operations on it simply publish to a
// snapshot nobody reads anymore.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.workspaces, id)
	r.mu.Unlock()
}
