package analysis

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clinsight/backend/internal/gateway"
	"github.com/clinsight/backend/internal/model/panel"
	analysisService "github.com/clinsight/backend/internal/service/analysis"
)

// Handler exposes workspace creation and the analysis flows over HTTP.
type Handler struct {
	registry *analysisService.Registry
	gw       gateway.Gateway
	panels   panel.Store
}

// New creates the analysis handler.
func New(registry *analysisService.Registry, gw gateway.Gateway, panels panel.Store) *Handler {
	return &Handler{registry: registry, gw: gw, panels: panels}
}

// RegisterRoutes wires the analysis routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/workspaces", h.handleCreateWorkspace)
	r.Post("/workspaces/{workspaceID}/detect", h.handleDetect)
	r.Post("/workspaces/{workspaceID}/analyze", h.handleAnalyze)
	r.Post("/workspaces/{workspaceID}/evaluations/{evaluationID}/load", h.handleLoad)
	r.Get("/workspaces/{workspaceID}/snapshot", h.handleSnapshot)
	r.Get("/profiles/{profileID}/history", h.handleHistory)
	r.Delete("/evaluations/{evaluationID}", h.handleDelete)
}

func (h *Handler) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	id, _ := h.registry.Create()
	respondJSON(w, http.StatusCreated, map[string]string{"workspaceId": id})
}

func (h *Handler) handleDetect(w http.ResponseWriter, r *http.Request) {
	orchestrator, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var payload map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: lab values must be numeric")
		return
	}
	if len(payload) == 0 {
		respondError(w, http.StatusBadRequest, "at least one lab value is required")
		return
	}

	detection, err := orchestrator.Detect(r.Context(), payload)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, detection)
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	orchestrator, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var payload struct {
		ProfileID int64              `json:"profileId"`
		Panels    []string           `json:"panels"`
		Data      map[string]float64 `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ProfileID <= 0 {
		respondError(w, http.StatusBadRequest, "profileId is required")
		return
	}
	if len(payload.Panels) == 0 {
		respondError(w, http.StatusBadRequest, "at least one panel is required")
		return
	}
	for _, name := range payload.Panels {
		if _, ok := h.panels.FindByName(name); !ok {
			respondError(w, http.StatusBadRequest, "unknown panel: "+name)
			return
		}
	}

	snapshot, err := orchestrator.RunPanels(r.Context(), payload.ProfileID, payload.Panels, payload.Data)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	orchestrator, ok := h.workspace(w, r)
	if !ok {
		return
	}

	evaluationID, ok := parseID(w, r, "evaluationID")
	if !ok {
		return
	}

	snapshot, err := orchestrator.LoadHistorical(r.Context(), evaluationID)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	orchestrator, ok := h.workspace(w, r)
	if !ok {
		return
	}

	snapshot, ready := orchestrator.Snapshot()
	if !ready {
		respondError(w, http.StatusNotFound, "no evaluation loaded yet")
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	profileID, ok := parseID(w, r, "profileID")
	if !ok {
		return
	}

	summaries, err := h.gw.ListHistory(r.Context(), profileID)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summaries)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	evaluationID, ok := parseID(w, r, "evaluationID")
	if !ok {
		return
	}

	if err := h.gw.DeleteEvaluation(r.Context(), evaluationID); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "evaluation deleted"})
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

func parseID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	if errors.Is(err, analysisService.ErrSuperseded) {
		return http.StatusConflict
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
