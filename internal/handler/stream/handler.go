package stream

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	analysisService "github.com/clinsight/backend/internal/service/analysis"
	"github.com/clinsight/backend/pkg/utils"
)

// Handler pushes snapshot publications to the dashboard over a websocket so
// the UI re-renders as soon as an operation completes.
type Handler struct {
	registry *analysisService.Registry
	upgrader websocket.Upgrader
}

// New creates the snapshot stream handler.
func New(registry *analysisService.Registry) *Handler {
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes wires the websocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/workspaces/{workspaceID}/ws", h.handleSnapshotStream)
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (h *Handler) handleSnapshotStream(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	orchestrator, ok := h.registry.Get(workspaceID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "workspace not found")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for workspace=%s: %v", workspaceID, err)
		return
	}
	defer conn.Close()

	snapshots, cancel := orchestrator.Subscribe()
	defer cancel()

	// Drain the read side so we notice when the client goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Printf("[ws] snapshot stream opened for workspace=%s", workspaceID)
	for {
		select {
		case snapshot := <-snapshots:
			msg := outgoingMessage{
				Type:      "snapshot",
				Data:      snapshot,
				Timestamp: time.Now().UnixMilli(),
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("[ws] write failed for workspace=%s: %v", workspaceID, err)
				return
			}
		case <-closed:
			log.Printf("[ws] snapshot stream closed for workspace=%s", workspaceID)
			return
		case <-r.Context().Done():
			return
		}
	}
}
