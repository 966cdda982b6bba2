package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/clinsight/backend/internal/model/chat"
	"github.com/clinsight/backend/internal/model/evaluation"
)

// Kind classifies a gateway failure for callers that branch on it.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindTransport  Kind = "transport"
	KindServer     Kind = "server"
)

// Error is the only error type produced by gateway implementations. No
// retries happen at this layer; retry policy belongs to the caller.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.Message)
}

// KindOf extracts the failure kind from an error chain, or "" when the error
// did not originate in the gateway.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// IsNotFound reports whether err is a gateway not-found failure.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// Gateway is the typed façade over the external evaluation, detection and
// chat endpoints. All calls are synchronous and side-effect free except
// RunEvaluation (each call stores a new run), StartChatSession and
// SendChatMessage.
type Gateway interface {
	// DetectPanels reports which panels the service can run for the given
	// lab values, with per-panel input coverage.
	DetectPanels(ctx context.Context, payload map[string]float64) (evaluation.Detection, error)

	// RunEvaluation scores the named panels. Not idempotent: repeating the
	// call creates a new stored run.
	RunEvaluation(ctx context.Context, profileID int64, panels []string, payload map[string]float64) (evaluation.Run, error)

	// FetchEvaluation loads a stored run by id.
	FetchEvaluation(ctx context.Context, evaluationID int64) (evaluation.Run, error)

	// ListHistory returns run summaries for a profile, newest first.
	ListHistory(ctx context.Context, profileID int64) ([]evaluation.Summary, error)

	// DeleteEvaluation removes a stored run.
	DeleteEvaluation(ctx context.Context, evaluationID int64) error

	// StartChatSession creates a conversation for the evaluation and scope.
	// The service allows duplicates; avoiding them is the caller's job.
	StartChatSession(ctx context.Context, evaluationID int64, scope chat.Scope) (chat.Session, error)

	// ListChatSessions returns every conversation stored for an evaluation,
	// transcripts included.
	ListChatSessions(ctx context.Context, evaluationID int64) ([]chat.Session, error)

	// SendChatMessage submits a user message and returns the assistant reply.
	SendChatMessage(ctx context.Context, sessionID int64, text string) (chat.Message, error)
}
