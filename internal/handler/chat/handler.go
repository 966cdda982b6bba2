package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinsight/backend/internal/gateway"
	"github.com/clinsight/backend/internal/model/chat"
	analysisService "github.com/clinsight/backend/internal/service/analysis"
	"github.com/clinsight/backend/internal/service/conversation"
)

// Handler exposes the per-evaluation explanation chats over HTTP.
type Handler struct {
	registry *analysisService.Registry
}

// New creates the chat handler.
func New(registry *analysisService.Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes wires the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/workspaces/{workspaceID}/chat/resolve", h.handleResolve)
	r.Post("/workspaces/{workspaceID}/chat/message", h.handleMessage)
}

type scopePayload struct {
	Scope     string `json:"scope"`
	PanelName string `json:"panelName"`
}

func (p scopePayload) toScope() chat.Scope {
	if p.Scope == string(chat.ScopeKindPanel) {
		return chat.PanelScope(p.PanelName)
	}
	return chat.Scope{Kind: chat.ScopeKind(p.Scope), Panel: p.PanelName}
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	orchestrator, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var payload scopePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	scope := payload.toScope()
	if err := scope.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := orchestrator.ResolveChat(r.Context(), scope)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"scope":    scope.Key(),
		"state":    orchestrator.SessionState(scope),
		"messages": messages,
	})
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	orchestrator, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var payload struct {
		scopePayload
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	scope := payload.toScope()
	if err := scope.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := orchestrator.SendChat(r.Context(), scope, payload.Text)
	if err != nil {
		// The optimistic user message, if any, stays in the transcript with
		// its unconfirmed flag; hand both back so nothing disappears.
		respondJSON(w, statusFor(err), map[string]any{
			"error":    err.Error(),
			"messages": messages,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"scope":    scope.Key(),
		"messages": messages,
	})
}

func (h *Handler) workspace(w http.ResponseWriter, r *http.Request) (*analysisService.Orchestrator, bool) {
	id := chi.URLParam(r, "workspaceID")
	orchestrator, ok := h.registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "workspace not found")
		return nil, false
	}
	return orchestrator, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, conversation.ErrNoEvaluation), errors.Is(err, conversation.ErrNotBound):
		return http.StatusConflict
	case errors.Is(err, chat.ErrInvalidScope):
		return http.StatusBadRequest
	}
	switch gateway.KindOf(err) {
	case gateway.KindNotFound:
		return http.StatusNotFound
	case gateway.KindValidation:
		return http.StatusBadRequest
	case gateway.KindTransport, gateway.KindServer:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
