package chat

import "time"

// Roles used on the wire and in local transcripts.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn. Transcripts are append-only; a user
// message whose delivery could not be confirmed keeps Unconfirmed set instead
// of being removed.
type Message struct {
	ID          string    `json:"id,omitempty"`
	Role        string    `json:"role"`
	Text        string    `json:"message"`
	Unconfirmed bool      `json:"unconfirmed,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}
