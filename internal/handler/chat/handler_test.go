package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/clinsight/backend/internal/gateway"
	"github.com/clinsight/backend/internal/model/chat"
	"github.com/clinsight/backend/internal/model/evaluation"
	analysisService "github.com/clinsight/backend/internal/service/analysis"
)

type stubGateway struct {
	gateway.Gateway
	run   func(ctx context.Context, profileID int64, panels []string, payload map[string]float64) (evaluation.Run, error)
	list  func(ctx context.Context, evaluationID int64) ([]chat.Session, error)
	start func(ctx context.Context, evaluationID int64, scope chat.Scope) (chat.Session, error)
	send  func(ctx context.Context, sessionID int64, text string) (chat.Message, error)
}

func (s *stubGateway) RunEvaluation(ctx context.Context, profileID int64, panels []string, payload map[string]float64) (evaluation.Run, error) {
	return s.run(ctx, profileID, panels, payload)
}

func (s *stubGateway) ListChatSessions(ctx context.Context, evaluationID int64) ([]chat.Session, error) {
	return s.list(ctx, evaluationID)
}

func (s *stubGateway) StartChatSession(ctx context.Context, evaluationID int64, scope chat.Scope) (chat.Session, error) {
	return s.start(ctx, evaluationID, scope)
}

func (s *stubGateway) SendChatMessage(ctx context.Context, sessionID int64, text string) (chat.Message, error) {
	return s.send(ctx, sessionID, text)
}

func workingGateway() *stubGateway {
	return &stubGateway{
		run: func(_ context.Context, profileID int64, panels []string, payload map[string]float64) (evaluation.Run, error) {
			return evaluation.Run{ID: 42, ProfileID: profileID, PanelsRun: panels, InputPayload: payload}, nil
		},
		list: func(context.Context, int64) ([]chat.Session, error) { return nil, nil },
		start: func(_ context.Context, evaluationID int64, scope chat.Scope) (chat.Session, error) {
			return chat.Session{ID: 9, EvaluationID: evaluationID, Scope: scope}, nil
		},
		send: func(_ context.Context, _ int64, text string) (chat.Message, error) {
			return chat.Message{Role: chat.RoleAssistant, Text: "about: " + text}, nil
		},
	}
}

func setup(t *testing.T) (*chi.Mux, string, *analysisService.Orchestrator) {
	t.Helper()

	registry := analysisService.NewRegistry(workingGateway())
	handler := New(registry)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	id, orchestrator := registry.Create()
	return r, id, orchestrator
}

func post(r *chi.Mux, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestResolveUnknownWorkspace(t *testing.T) {
	r, _, _ := setup(t)

	resp := post(r, "/workspaces/nope/chat/resolve", `{"scope":"global"}`)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestResolveBeforeAnyEvaluation(t *testing.T) {
	r, id, _ := setup(t)

	resp := post(r, "/workspaces/"+id+"/chat/resolve", `{"scope":"global"}`)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestResolveRejectsInvalidScope(t *testing.T) {
	r, id, _ := setup(t)

	resp := post(r, "/workspaces/"+id+"/chat/resolve", `{"scope":"panel"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestResolveAndSendMessage(t *testing.T) {
	r, id, orchestrator := setup(t)

	if _, err := orchestrator.RunPanels(context.Background(), 1, []string{"Diabetes"}, map[string]float64{"HbA1c_level": 7.2}); err != nil {
		t.Fatalf("RunPanels err: %v", err)
	}

	resp := post(r, "/workspaces/"+id+"/chat/resolve", `{"scope":"panel","panelName":"Diabetes"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var resolved struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&resolved); err != nil {
		t.Fatalf("decode resolve response: %v", err)
	}
	if resolved.State != "bound" {
		t.Fatalf("expected bound state, got %q", resolved.State)
	}

	resp = post(r, "/workspaces/"+id+"/chat/message", `{"scope":"panel","panelName":"Diabetes","text":"why?"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("message: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(body.Messages))
	}
	if body.Messages[1].Text != "about: why?" {
		t.Fatalf("unexpected assistant reply: %q", body.Messages[1].Text)
	}
}

func TestSendMessageRequiresText(t *testing.T) {
	r, id, _ := setup(t)

	resp := post(r, "/workspaces/"+id+"/chat/message", `{"scope":"global"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
