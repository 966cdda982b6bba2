package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/clinsight/backend/internal/model/chat"
	"github.com/clinsight/backend/internal/model/evaluation"
)

// ClientConfig carries the connection settings for the evaluation service.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client implements Gateway over the evaluation service's JSON API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds an HTTP-backed gateway.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// DetectPanels asks the service which panels the lab values support.
func (c *Client) DetectPanels(ctx context.Context, payload map[string]float64) (evaluation.Detection, error) {
	var det evaluation.Detection
	if err := c.call(ctx, http.MethodPost, "/detect", payload, &det); err != nil {
		return evaluation.Detection{}, err
	}
	return det, nil
}

type runResponse struct {
	EvaluationID int64                             `json:"evaluation_id"`
	ProfileID    int64                             `json:"profile_id"`
	Timestamp    time.Time                         `json:"timestamp"`
	PanelsRun    []string                          `json:"panels_run"`
	Results      map[string]evaluation.PanelResult `json:"results"`
}

// RunEvaluation triggers scoring and returns the stored run.
func (c *Client) RunEvaluation(ctx context.Context, profileID int64, panels []string, payload map[string]float64) (evaluation.Run, error) {
	body := map[string]any{"panels": panels, "data": payload}

	var resp runResponse
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/evaluate/%d", profileID), body, &resp); err != nil {
		return evaluation.Run{}, err
	}

	return evaluation.Run{
		ID:           resp.EvaluationID,
		ProfileID:    resp.ProfileID,
		Timestamp:    resp.Timestamp,
		PanelsRun:    resp.PanelsRun,
		InputPayload: payload,
		OutputResult: resp.Results,
	}, nil
}

// FetchEvaluation loads a stored run by id.
func (c *Client) FetchEvaluation(ctx context.Context, evaluationID int64) (evaluation.Run, error) {
	var run evaluation.Run
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/evaluate/record/%d", evaluationID), nil, &run); err != nil {
		return evaluation.Run{}, err
	}
	return run, nil
}

// ListHistory returns run summaries for a profile.
func (c *Client) ListHistory(ctx context.Context, profileID int64) ([]evaluation.Summary, error) {
	var summaries []evaluation.Summary
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/evaluate/history/%d", profileID), nil, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// DeleteEvaluation removes a stored run.
func (c *Client) DeleteEvaluation(ctx context.Context, evaluationID int64) error {
	return c.call(ctx, http.MethodDelete, fmt.Sprintf("/evaluate/record/%d", evaluationID), nil, nil)
}

// StartChatSession creates a conversation for the evaluation and scope.
func (c *Client) StartChatSession(ctx context.Context, evaluationID int64, scope chat.Scope) (chat.Session, error) {
	body := map[string]any{
		"evaluation_id": evaluationID,
		"session_type":  string(scope.Kind),
	}
	if scope.Kind == chat.ScopeKindPanel {
		body["panel_name"] = scope.Panel
	}

	var resp struct {
		SessionID int64 `json:"session_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/chat/start", body, &resp); err != nil {
		return chat.Session{}, err
	}

	return chat.Session{
		ID:           resp.SessionID,
		EvaluationID: evaluationID,
		Scope:        scope,
		Messages:     []chat.Message{},
	}, nil
}

type wireSession struct {
	SessionID   int64  `json:"session_id"`
	SessionType string `json:"session_type"`
	PanelName   string `json:"panel_name"`
	Messages    []struct {
		Role      string    `json:"role"`
		Message   string    `json:"message"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"messages"`
}

// ListChatSessions returns every stored conversation for an evaluation.
func (c *Client) ListChatSessions(ctx context.Context, evaluationID int64) ([]chat.Session, error) {
	var wire []wireSession
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/chat/%d", evaluationID), nil, &wire); err != nil {
		return nil, err
	}

	sessions := make([]chat.Session, 0, len(wire))
	for _, ws := range wire {
		scope := chat.GlobalScope()
		if ws.SessionType == string(chat.ScopeKindPanel) {
			scope = chat.PanelScope(ws.PanelName)
		}

		messages := make([]chat.Message, 0, len(ws.Messages))
		for _, m := range ws.Messages {
			messages = append(messages, chat.Message{
				Role:      m.Role,
				Text:      m.Message,
				CreatedAt: m.Timestamp,
			})
		}

		sessions = append(sessions, chat.Session{
			ID:           ws.SessionID,
			EvaluationID: evaluationID,
			Scope:        scope,
			Messages:     messages,
		})
	}
	return sessions, nil
}

// SendChatMessage submits a user message and returns the assistant reply.
func (c *Client) SendChatMessage(ctx context.Context, sessionID int64, text string) (chat.Message, error) {
	body := map[string]any{"session_id": sessionID, "message": text}

	var resp struct {
		AIResponse string `json:"ai_response"`
	}
	if err := c.call(ctx, http.MethodPost, "/chat/message", body, &resp); err != nil {
		return chat.Message{}, err
	}

	return chat.Message{
		Role:      chat.RoleAssistant,
		Text:      resp.AIResponse,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// call performs one JSON round trip and maps failures onto the error taxonomy.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindValidation, Message: fmt.Sprintf("encode request: %v", err)}
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindTransport, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindServer, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

func statusError(resp *http.Response) error {
	message := resp.Status
	var detail struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&detail); err == nil {
		if detail.Detail != "" {
			message = detail.Detail
		} else if detail.Error != "" {
			message = detail.Error
		}
	}

	kind := KindServer
	switch {
	case resp.StatusCode == http.StatusNotFound:
		kind = KindNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		kind = KindValidation
	}
	return &Error{Kind: kind, Message: message}
}
