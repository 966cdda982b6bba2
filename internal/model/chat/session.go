package chat

import "time"

// Session is an explanation conversation attached to one evaluation, either
// for the whole report or for a single panel.
type Session struct {
	ID           int64     `json:"sessionId"`
	EvaluationID int64     `json:"evaluationId"`
	Scope        Scope     `json:"scope"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
}
