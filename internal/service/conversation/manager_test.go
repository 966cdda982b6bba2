package conversation_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/clinsight/backend/internal/gateway"
	"github.com/clinsight/backend/internal/model/chat"
	"github.com/clinsight/backend/internal/model/evaluation"
	"github.com/clinsight/backend/internal/service/conversation"
)

// fakeGateway lets each test script the gateway calls it expects.
type fakeGateway struct {
	listSessions func(ctx context.Context, evaluationID int64) ([]chat.Session, error)
	startSession func(ctx context.Context, evaluationID int64, scope chat.Scope) (chat.Session, error)
	sendMessage  func(ctx context.Context, sessionID int64, text string) (chat.Message, error)
}

func (f *fakeGateway) DetectPanels(context.Context, map[string]float64) (evaluation.Detection, error) {
	return evaluation.Detection{}, errUnexpectedCall
}

func (f *fakeGateway) RunEvaluation(context.Context, int64, []string, map[string]float64) (evaluation.Run, error) {
	return evaluation.Run{}, errUnexpectedCall
}

func (f *fakeGateway) FetchEvaluation(context.Context, int64) (evaluation.Run, error) {
	return evaluation.Run{}, errUnexpectedCall
}

func (f *fakeGateway) ListHistory(context.Context, int64) ([]evaluation.Summary, error) {
	return nil, errUnexpectedCall
}

func (f *fakeGateway) DeleteEvaluation(context.Context, int64) error {
	return errUnexpectedCall
}

func (f *fakeGateway) StartChatSession(ctx context.Context, evaluationID int64, scope chat.Scope) (chat.Session, error) {
	if f.startSession == nil {
		return chat.Session{}, errUnexpectedCall
	}
	return f.startSession(ctx, evaluationID, scope)
}

func (f *fakeGateway) ListChatSessions(ctx context.Context, evaluationID int64) ([]chat.Session, error) {
	if f.listSessions == nil {
		return nil, errUnexpectedCall
	}
	return f.listSessions(ctx, evaluationID)
}

func (f *fakeGateway) SendChatMessage(ctx context.Context, sessionID int64, text string) (chat.Message, error) {
	if f.sendMessage == nil {
		return chat.Message{}, errUnexpectedCall
	}
	return f.sendMessage(ctx, sessionID, text)
}

var errUnexpectedCall = &gateway.Error{Kind: gateway.KindServer, Message: "unexpected gateway call"}

func TestResolveAdoptsExistingSessionWithHistory(t *testing.T) {
	existing := chat.Session{
		ID:           11,
		EvaluationID: 42,
		Scope:        chat.GlobalScope(),
		Messages: []chat.Message{
			{Role: chat.RoleUser, Text: "explain this"},
			{Role: chat.RoleAssistant, Text: "gladly"},
		},
	}
	gw := &fakeGateway{
		listSessions: func(_ context.Context, evaluationID int64) ([]chat.Session, error) {
			if evaluationID != 42 {
				t.Fatalf("listed sessions for evaluation %d", evaluationID)
			}
			return []chat.Session{existing}, nil
		},
	}

	m := conversation.NewManager(gw)
	m.Rebind(42)

	session, err := m.Resolve(context.Background(), chat.GlobalScope())
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if session.ID != 11 {
		t.Fatalf("adopted session %d, want 11", session.ID)
	}
	if len(session.Messages) != 2 {
		t.Fatalf("expected adopted transcript, got %d messages", len(session.Messages))
	}
	if got := m.StateOf(chat.GlobalScope()); got != conversation.StateBound {
		t.Fatalf("state = %s, want bound", got)
	}
}

func TestResolveCreatesWhenNoSessionMatches(t *testing.T) {
	gw := &fakeGateway{
		listSessions: func(context.Context, int64) ([]chat.Session, error) {
			// An empty session for the same scope must not be adopted.
			return []chat.Session{{ID: 5, Scope: chat.GlobalScope()}}, nil
		},
		startSession: func(_ context.Context, evaluationID int64, scope chat.Scope) (chat.Session, error) {
			return chat.Session{ID: 77, EvaluationID: evaluationID, Scope: scope, Messages: []chat.Message{}}, nil
		},
	}

	m := conversation.NewManager(gw)
	m.Rebind(42)

	session, err := m.Resolve(context.Background(), chat.GlobalScope())
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if session.ID != 77 {
		t.Fatalf("resolved session %d, want freshly created 77", session.ID)
	}
}

func TestResolveFallsBackToCreationWhenLookupFails(t *testing.T) {
	gw := &fakeGateway{
		listSessions: func(context.Context, int64) ([]chat.Session, error) {
			return nil, &gateway.Error{Kind: gateway.KindTransport, Message: "timeout"}
		},
		startSession: func(_ context.Context, evaluationID int64, scope chat.Scope) (chat.Session, error) {
			return chat.Session{ID: 88, EvaluationID: evaluationID, Scope: scope}, nil
		},
	}

	m := conversation.NewManager(gw)
	m.Rebind(42)

	session, err := m.Resolve(context.Background(), chat.PanelScope("Diabetes"))
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if session.ID != 88 {
		t.Fatalf("resolved session %d, want 88", session.ID)
	}
}

func TestResolveErrorStateWhenBothCallsFail(t *testing.T) {
	gw := &fakeGateway{
		listSessions: func(context.Context, int64) ([]chat.Session, error) {
			return nil, &gateway.Error{Kind: gateway.KindTransport, Message: "timeout"}
		},
		startSession: func(context.Context, int64, chat.Scope) (chat.Session, error) {
			return chat.Session{}, &gateway.Error{Kind: gateway.KindServer, Message: "boom"}
		},
	}

	m := conversation.NewManager(gw)
	m.Rebind(42)

	if _, err := m.Resolve(context.Background(), chat.GlobalScope()); err == nil {
		t.Fatal("expected error")
	}
	if got := m.StateOf(chat.GlobalScope()); got != conversation.StateError {
		t.Fatalf("state = %s, want error", got)
	}

	// The manager does not retry on its own, but a later call does.
	gw.listSessions = func(context.Context, int64) ([]chat.Session, error) {
		return nil, nil
	}
	gw.startSession = func(_ context.Context, evaluationID int64, scope chat.Scope) (chat.Session, error) {
		return chat.Session{ID: 99, EvaluationID: evaluationID, Scope: scope}, nil
	}

	session, err := m.Resolve(context.Background(), chat.GlobalScope())
	if err != nil {
		t.Fatalf("retry Resolve err: %v", err)
	}
	if session.ID != 99 {
		t.Fatalf("resolved session %d, want 99", session.ID)
	}
}

func TestResolveWithoutEvaluation(t *testing.T) {
	m := conversation.NewManager(&fakeGateway{})

	if _, err := m.Resolve(context.Background(), chat.GlobalScope()); !errors.Is(err, conversation.ErrNoEvaluation) {
		t.Fatalf("err = %v, want ErrNoEvaluation", err)
	}
}

func TestConcurrentResolvesCoalesce(t *testing.T) {
	const callers = 8

	var listCalls, startCalls atomic.Int64
	gate := make(chan struct{})

	gw := &fakeGateway{
		listSessions: func(context.Context, int64) ([]chat.Session, error) {
			listCalls.Add(1)
			<-gate
			return nil, nil
		},
		startSession: func(_ context.Context, evaluationID int64, scope chat.Scope) (chat.Session, error) {
			startCalls.Add(1)
			return chat.Session{ID: 101, EvaluationID: evaluationID, Scope: scope}, nil
		},
	}

	m := conversation.NewManager(gw)
	m.Rebind(42)

	var wg sync.WaitGroup
	ids := make([]int64, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session, err := m.Resolve(context.Background(), chat.GlobalScope())
			ids[i], errs[i] = session.ID, err
		}(i)
	}

	close(gate)
	wg.Wait()

	if got := listCalls.Load(); got != 1 {
		t.Fatalf("lookup called %d times, want 1", got)
	}
	if got := startCalls.Load(); got != 1 {
		t.Fatalf("creation called %d times, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d err: %v", i, errs[i])
		}
		if ids[i] != 101 {
			t.Fatalf("caller %d got session %d, want 101", i, ids[i])
		}
	}
}

func TestRebindDiscardsOtherEvaluationState(t *testing.T) {
	gw := &fakeGateway{
		listSessions: func(context.Context, int64) ([]chat.Session, error) { return nil, nil },
		startSession: func(_ context.Context, evaluationID int64, scope chat.Scope) (chat.Session, error) {
			return chat.Session{ID: evaluationID * 10, EvaluationID: evaluationID, Scope: scope}, nil
		},
	}

	m := conversation.NewManager(gw)
	m.Rebind(1)
	if _, err := m.Resolve(context.Background(), chat.GlobalScope()); err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if got := m.StateOf(chat.GlobalScope()); got != conversation.StateBound {
		t.Fatalf("state = %s, want bound", got)
	}

	m.Rebind(2)
	if got := m.StateOf(chat.GlobalScope()); got != conversation.StateUnbound {
		t.Fatalf("state after rebind = %s, want unbound", got)
	}

	session, err := m.Resolve(context.Background(), chat.GlobalScope())
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if session.ID != 20 {
		t.Fatalf("resolved session %d, want one for evaluation 2", session.ID)
	}
}

func TestStaleResolutionDoesNotBindAfterRebind(t *testing.T) {
	started := make(chan struct{})
	gate := make(chan struct{})
	gw := &fakeGateway{
		listSessions: func(_ context.Context, evaluationID int64) ([]chat.Session, error) {
			if evaluationID == 1 {
				close(started)
				<-gate
			}
			return nil, nil
		},
		startSession: func(_ context.Context, evaluationID int64, scope chat.Scope) (chat.Session, error) {
			return chat.Session{ID: evaluationID * 10, EvaluationID: evaluationID, Scope: scope}, nil
		},
	}

	m := conversation.NewManager(gw)
	m.Rebind(1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Resolve(context.Background(), chat.GlobalScope())
	}()

	// Switch evaluations while the first resolution hangs in the lookup.
	<-started
	m.Rebind(2)
	close(gate)
	<-done

	if got := m.StateOf(chat.GlobalScope()); got != conversation.StateUnbound {
		t.Fatalf("stale resolution leaked into state: %s", got)
	}

	session, err := m.Resolve(context.Background(), chat.GlobalScope())
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if session.ID != 20 {
		t.Fatalf("resolved session %d, want one for evaluation 2", session.ID)
	}
}

func TestSendMessageRequiresBoundScope(t *testing.T) {
	m := conversation.NewManager(&fakeGateway{})
	m.Rebind(42)

	if _, err := m.SendMessage(context.Background(), chat.GlobalScope(), "hello"); !errors.Is(err, conversation.ErrNotBound) {
		t.Fatalf("err = %v, want ErrNotBound", err)
	}
	if _, ok := m.Transcript(chat.GlobalScope()); ok {
		t.Fatal("rejected send must not create a transcript")
	}
}

func TestSendMessageAppendsBothTurns(t *testing.T) {
	gw := &fakeGateway{
		listSessions: func(context.Context, int64) ([]chat.Session, error) { return nil, nil },
		startSession: func(_ context.Context, evaluationID int64, scope chat.Scope) (chat.Session, error) {
			return chat.Session{ID: 7, EvaluationID: evaluationID, Scope: scope}, nil
		},
		sendMessage: func(_ context.Context, sessionID int64, text string) (chat.Message, error) {
			if sessionID != 7 {
				t.Fatalf("sent to session %d, want 7", sessionID)
			}
			return chat.Message{Role: chat.RoleAssistant, Text: "explanation for: " + text}, nil
		},
	}

	m := conversation.NewManager(gw)
	m.Rebind(42)
	if _, err := m.Resolve(context.Background(), chat.GlobalScope()); err != nil {
		t.Fatalf("Resolve err: %v", err)
	}

	messages, err := m.SendMessage(context.Background(), chat.GlobalScope(), "why this decision?")
	if err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != chat.RoleUser || messages[0].Unconfirmed {
		t.Fatalf("unexpected user turn: %+v", messages[0])
	}
	if messages[1].Role != chat.RoleAssistant || messages[1].Text != "explanation for: why this decision?" {
		t.Fatalf("unexpected assistant turn: %+v", messages[1])
	}
}

func TestSendMessageFailureKeepsUnconfirmedUserTurn(t *testing.T) {
	gw := &fakeGateway{
		listSessions: func(context.Context, int64) ([]chat.Session, error) { return nil, nil },
		startSession: func(_ context.Context, evaluationID int64, scope chat.Scope) (chat.Session, error) {
			return chat.Session{ID: 7, EvaluationID: evaluationID, Scope: scope}, nil
		},
		sendMessage: func(context.Context, int64, string) (chat.Message, error) {
			return chat.Message{}, &gateway.Error{Kind: gateway.KindServer, Message: "llm unavailable"}
		},
	}

	m := conversation.NewManager(gw)
	m.Rebind(42)
	if _, err := m.Resolve(context.Background(), chat.GlobalScope()); err != nil {
		t.Fatalf("Resolve err: %v", err)
	}

	messages, err := m.SendMessage(context.Background(), chat.GlobalScope(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(messages) != 1 {
		t.Fatalf("expected the optimistic user turn to survive, got %d messages", len(messages))
	}
	if !messages[0].Unconfirmed {
		t.Fatal("surviving user turn must be flagged unconfirmed")
	}

	transcript, ok := m.Transcript(chat.GlobalScope())
	if !ok || len(transcript) != 1 {
		t.Fatalf("transcript = %v, ok = %v", transcript, ok)
	}
}
