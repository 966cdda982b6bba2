// Package conversation owns the lifecycle of the explanation chat sessions
// attached to the active evaluation: one global session plus up to one per
// panel. The backend allows duplicate sessions per scope; the manager's job
// is to converge on a single in-memory handle per scope and never issue
// duplicate creation calls.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinsight/backend/internal/gateway"
	"github.com/clinsight/backend/internal/model/chat"
)

// State is the lifecycle stage of one scope's conversation.
type State string

const (
	StateUnbound   State = "unbound"
	StateResolving State = "resolving"
	StateBound     State = "bound"
	StateError     State = "error"
)

var (
	// ErrNoEvaluation is returned when no evaluation is active.
	ErrNoEvaluation = errors.New("no active evaluation")
	// ErrNotBound is returned when a message is sent before the scope's
	// session has been resolved.
	ErrNotBound = errors.New("chat session not bound")
)

type binding struct {
	state   State
	session chat.Session
	err     error
}

// pending coalesces concurrent resolutions of the same scope: every caller
// that arrives while the flight is open waits on done and shares the result.
type pending struct {
	done    chan struct{}
	session chat.Session
	err     error
}

// Manager caches one session handle per (evaluation, scope) pair. All cached
// state belongs to the active evaluation; rebinding to a different evaluation
// discards it wholesale so sessions never leak across evaluations.
type Manager struct {
	gw gateway.Gateway

	mu           sync.Mutex
	evaluationID int64
	bindings     map[chat.Scope]*binding
	inflight     map[chat.Scope]*pending
}

// NewManager builds a manager with no active evaluation.
func NewManager(gw gateway.Gateway) *Manager {
	return &Manager{
		gw:       gw,
		bindings: make(map[chat.Scope]*binding),
		inflight: make(map[chat.Scope]*pending),
	}
}

// Rebind switches the manager to a different evaluation, dropping every
// cached handle and detaching in-flight resolutions so their results cannot
// land in the new evaluation's state.
func (m *Manager) Rebind(evaluationID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.evaluationID == evaluationID {
		return
	}
	m.evaluationID = evaluationID
	m.bindings = make(map[chat.Scope]*binding)
	m.inflight = make(map[chat.Scope]*pending)
}

// EvaluationID returns the evaluation the manager is currently bound to.
func (m *Manager) EvaluationID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evaluationID
}

// Resolve returns the session handle for a scope, looking it up on the
// service and falling back to creation when none exists. Concurrent calls
// for the same scope share one lookup/creation pair. A scope left in the
// error state is retried on the next call.
func (m *Manager) Resolve(ctx context.Context, scope chat.Scope) (chat.Session, error) {
	if err := scope.Validate(); err != nil {
		return chat.Session{}, err
	}

	m.mu.Lock()
	if m.evaluationID == 0 {
		m.mu.Unlock()
		return chat.Session{}, ErrNoEvaluation
	}
	evaluationID := m.evaluationID

	if b, ok := m.bindings[scope]; ok && b.state == StateBound {
		session := cloneSession(b.session)
		m.mu.Unlock()
		return session, nil
	}

	if p, ok := m.inflight[scope]; ok {
		m.mu.Unlock()
		select {
		case <-p.done:
			return cloneSession(p.session), p.err
		case <-ctx.Done():
			return chat.Session{}, ctx.Err()
		}
	}

	p := &pending{done: make(chan struct{})}
	m.inflight[scope] = p
	m.bindings[scope] = &binding{state: StateResolving}
	m.mu.Unlock()

	session, err := m.lookupOrCreate(ctx, evaluationID, scope)

	m.mu.Lock()
	if m.inflight[scope] == p {
		delete(m.inflight, scope)
	}
	if m.evaluationID == evaluationID {
		if err != nil {
			m.bindings[scope] = &binding{state: StateError, err: err}
		} else {
			m.bindings[scope] = &binding{state: StateBound, session: session}
		}
	}
	m.mu.Unlock()

	p.session, p.err = cloneSession(session), err
	close(p.done)
	return cloneSession(session), err
}

// lookupOrCreate adopts an existing session with history when the service has
// one, otherwise creates a fresh session. Only when both the lookup and the
// creation fall over does the scope end up in the error state.
func (m *Manager) lookupOrCreate(ctx context.Context, evaluationID int64, scope chat.Scope) (chat.Session, error) {
	sessions, lookupErr := m.gw.ListChatSessions(ctx, evaluationID)
	if lookupErr == nil {
		for _, s := range sessions {
			if s.Scope == scope && len(s.Messages) > 0 {
				log.Printf("[conversation] adopted session=%d scope=%s messages=%d", s.ID, scope.Key(), len(s.Messages))
				return s, nil
			}
		}
	} else {
		log.Printf("[conversation] session lookup failed for evaluation=%d: %v, falling back to creation", evaluationID, lookupErr)
	}

	session, createErr := m.gw.StartChatSession(ctx, evaluationID, scope)
	if createErr != nil {
		if lookupErr != nil {
			return chat.Session{}, fmt.Errorf("lookup failed (%v); creation failed: %w", lookupErr, createErr)
		}
		return chat.Session{}, createErr
	}
	log.Printf("[conversation] created session=%d scope=%s", session.ID, scope.Key())
	return session, nil
}

// SendMessage appends the user's message optimistically, submits it, then
// appends the assistant reply. On failure the user message stays in the
// transcript flagged as unconfirmed; it is never rolled back.
func (m *Manager) SendMessage(ctx context.Context, scope chat.Scope, text string) ([]chat.Message, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	b, ok := m.bindings[scope]
	if !ok || b.state != StateBound {
		m.mu.Unlock()
		return nil, ErrNotBound
	}

	userMsg := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	b.session.Messages = append(b.session.Messages, userMsg)
	sessionID := b.session.ID
	m.mu.Unlock()

	reply, err := m.gw.SendChatMessage(ctx, sessionID, text)

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.bindings[scope]
	if !ok || current.state != StateBound || current.session.ID != sessionID {
		// Rebound mid-flight; the transcript this send belonged to is gone.
		return nil, err
	}

	if err != nil {
		markUnconfirmed(current.session.Messages, userMsg.ID)
		return copyMessages(current.session.Messages), err
	}

	reply.ID = uuid.NewString()
	current.session.Messages = append(current.session.Messages, reply)
	return copyMessages(current.session.Messages), nil
}

// Transcript returns a copy of the messages for a bound scope.
func (m *Manager) Transcript(scope chat.Scope) ([]chat.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bindings[scope]
	if !ok || b.state != StateBound {
		return nil, false
	}
	return copyMessages(b.session.Messages), true
}

// StateOf reports the lifecycle stage of one scope.
func (m *Manager) StateOf(scope chat.Scope) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.bindings[scope]; ok {
		return b.state
	}
	return StateUnbound
}

// States snapshots every tracked scope's state, keyed by scope key.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]State, len(m.bindings))
	for scope, b := range m.bindings {
		out[scope.Key()] = b.state
	}
	return out
}

func markUnconfirmed(messages []chat.Message, id string) {
	for i := range messages {
		if messages[i].ID == id {
			messages[i].Unconfirmed = true
			return
		}
	}
}

func copyMessages(messages []chat.Message) []chat.Message {
	out := make([]chat.Message, len(messages))
	copy(out, messages)
	return out
}

func cloneSession(s chat.Session) chat.Session {
	s.Messages = copyMessages(s.Messages)
	return s
}
