// Package analysis coordinates the run-evaluation and load-historical flows:
// gateway call, reconciliation, session rebinding, and publication of one
// immutable snapshot per completed step.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/clinsight/backend/internal/analysis/reconcile"
	"github.com/clinsight/backend/internal/gateway"
	"github.com/clinsight/backend/internal/model/chat"
	"github.com/clinsight/backend/internal/model/evaluation"
	"github.com/clinsight/backend/internal/model/panel"
	"github.com/clinsight/backend/internal/service/conversation"
)

// ErrSuperseded marks an operation whose result was discarded because a newer
// operation started before it completed. The published snapshot is untouched.
var ErrSuperseded = errors.New("operation superseded by a newer one")

// OpError annotates a gateway failure with the orchestrator step it broke.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *OpError) Unwrap() error { return e.Err }

// Snapshot is the combined view state handed to presentation: which
// evaluation is on screen, its per-panel presentations, and the lifecycle
// state of every chat scope. Snapshots are value copies; mutating one never
// affects the orchestrator.
type Snapshot struct {
	EvaluationID  int64                                   `json:"evaluationId"`
	ProfileID     int64                                   `json:"profileId"`
	Presentations map[string]evaluation.PanelPresentation `json:"presentations"`
	Sessions      map[string]conversation.State           `json:"sessions"`
}

// Orchestrator sequences evaluate/load operations for one dashboard
// workspace. The most recently started operation wins: a slower, earlier one
// finds its sequence number stale at completion and is discarded.
type Orchestrator struct {
	gw            gateway.Gateway
	conversations *conversation.Manager

	mu            sync.Mutex
	seq           uint64
	evaluationID  int64
	profileID     int64
	presentations map[string]evaluation.PanelPresentation
	detection     *evaluation.Detection
	snapshot      Snapshot
	ready         bool
	subscribers   map[chan Snapshot]struct{}
}

// NewOrchestrator builds an orchestrator around a gateway and the session
// manager that will track its chat scopes.
func NewOrchestrator(gw gateway.Gateway, conversations *conversation.Manager) *Orchestrator {
	return &Orchestrator{
		gw:            gw,
		conversations: conversations,
		subscribers:   make(map[chan Snapshot]struct{}),
	}
}

// Detect asks the service which panels the lab values support and keeps the
// metadata as the detection context for the next run.
func (o *Orchestrator) Detect(ctx context.Context, payload map[string]float64) (evaluation.Detection, error) {
	det, err := o.gw.DetectPanels(ctx, payload)
	if err != nil {
		return evaluation.Detection{}, &OpError{Op: "detect", Err: err}
	}

	o.mu.Lock()
	o.detection = &det
	o.mu.Unlock()
	return det, nil
}

// RunPanels triggers a fresh evaluation, reconciles it in live mode and binds
// the global chat scope for the new evaluation. Panel scopes bind lazily when
// a panel's chat is opened.
func (o *Orchestrator) RunPanels(ctx context.Context, profileID int64, panels []string, payload map[string]float64) (Snapshot, error) {
	op := o.begin()

	run, err := o.gw.RunEvaluation(ctx, profileID, panels, payload)
	if err != nil {
		return o.currentSnapshot(), &OpError{Op: "evaluate", Err: err}
	}

	det := o.detectionContext(panels, payload)
	presentations := reconcile.Reconcile(reconcile.Live(run, det))

	if !o.commit(op, run, presentations) {
		return o.currentSnapshot(), ErrSuperseded
	}
	log.Printf("[orchestrator] evaluation=%d stored for profile=%d panels=%d", run.ID, profileID, len(panels))

	return o.bindGlobal(ctx, op)
}

// LoadHistorical fetches a stored run, reconciles it in historical mode and
// rebinds the chat scopes to it. A failed fetch leaves the previous snapshot
// intact.
func (o *Orchestrator) LoadHistorical(ctx context.Context, evaluationID int64) (Snapshot, error) {
	op := o.begin()

	run, err := o.gw.FetchEvaluation(ctx, evaluationID)
	if err != nil {
		return o.currentSnapshot(), &OpError{Op: "fetchHistory", Err: err}
	}

	presentations := reconcile.Reconcile(reconcile.Historical(run))

	if !o.commit(op, run, presentations) {
		return o.currentSnapshot(), ErrSuperseded
	}
	log.Printf("[orchestrator] evaluation=%d loaded from history", run.ID)

	return o.bindGlobal(ctx, op)
}

// ResolveChat binds one chat scope for the active evaluation and returns its
// transcript alongside the refreshed snapshot.
func (o *Orchestrator) ResolveChat(ctx context.Context, scope chat.Scope) ([]chat.Message, error) {
	session, err := o.conversations.Resolve(ctx, scope)
	o.republish()
	if err != nil {
		return nil, &OpError{Op: "chatResolve", Err: err}
	}
	return session.Messages, nil
}

// SendChat submits one user message on a bound scope.
func (o *Orchestrator) SendChat(ctx context.Context, scope chat.Scope, text string) ([]chat.Message, error) {
	messages, err := o.conversations.SendMessage(ctx, scope, text)
	o.republish()
	if err != nil {
		return messages, &OpError{Op: "chatSend", Err: err}
	}
	return messages, nil
}

// SessionState reports the lifecycle stage of one chat scope.
func (o *Orchestrator) SessionState(scope chat.Scope) conversation.State {
	return o.conversations.StateOf(scope)
}

// Snapshot returns the last published snapshot, if any operation completed.
func (o *Orchestrator) Snapshot() (Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.ready {
		return Snapshot{}, false
	}
	return cloneSnapshot(o.snapshot), true
}

// Subscribe registers for snapshot publications. The returned cancel func
// must be called when the subscriber goes away.
func (o *Orchestrator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	o.mu.Lock()
	o.subscribers[ch] = struct{}{}
	if o.ready {
		ch <- cloneSnapshot(o.snapshot)
	}
	o.mu.Unlock()

	cancel := func() {
		o.mu.Lock()
		delete(o.subscribers, ch)
		o.mu.Unlock()
	}
	return ch, cancel
}

// begin issues the sequence number for a new operation; the latest issued
// number is the only one allowed to publish.
func (o *Orchestrator) begin() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	return o.seq
}

// commit installs an operation's outcome if it is still the newest one.
// Rebinding the session manager happens inside the same critical section so
// a stale operation can never clobber a newer rebind.
func (o *Orchestrator) commit(op uint64, run evaluation.Run, presentations map[string]evaluation.PanelPresentation) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if op != o.seq {
		return false
	}
	o.evaluationID = run.ID
	o.profileID = run.ProfileID
	o.presentations = presentations
	o.conversations.Rebind(run.ID)
	o.publishLocked()
	return true
}

// bindGlobal resolves the global scope after a commit and republishes the
// snapshot with the updated session states.
func (o *Orchestrator) bindGlobal(ctx context.Context, op uint64) (Snapshot, error) {
	_, err := o.conversations.Resolve(ctx, chat.GlobalScope())

	o.mu.Lock()
	if op == o.seq {
		o.publishLocked()
	}
	snap := cloneSnapshot(o.snapshot)
	o.mu.Unlock()

	if err != nil {
		return snap, &OpError{Op: "chatResolve", Err: err}
	}
	return snap, nil
}

// detectionContext returns the stored detection metadata when a detect pass
// preceded the run, otherwise derives one from the local panel catalog.
func (o *Orchestrator) detectionContext(panels []string, payload map[string]float64) evaluation.Detection {
	o.mu.Lock()
	det := o.detection
	o.mu.Unlock()

	if det != nil {
		return *det
	}
	return panel.DeriveDetection(panels, payload)
}

func (o *Orchestrator) republish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ready {
		o.publishLocked()
	}
}

// publishLocked recomposes and broadcasts the snapshot. Callers hold o.mu.
func (o *Orchestrator) publishLocked() {
	o.snapshot = Snapshot{
		EvaluationID:  o.evaluationID,
		ProfileID:     o.profileID,
		Presentations: o.presentations,
		Sessions:      o.conversations.States(),
	}
	o.ready = true

	for ch := range o.subscribers {
		select {
		case ch <- cloneSnapshot(o.snapshot):
		default:
		}
	}
}

func (o *Orchestrator) currentSnapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneSnapshot(o.snapshot)
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	out.Presentations = make(map[string]evaluation.PanelPresentation, len(s.Presentations))
	for name, pres := range s.Presentations {
		copied := pres
		copied.PresentInputs = append([]string(nil), pres.PresentInputs...)
		copied.MissingInputs = append([]string(nil), pres.MissingInputs...)
		if pres.Result != nil {
			result := *pres.Result
			copied.Result = &result
		}
		if pres.Historical != nil {
			historical := *pres.Historical
			copied.Historical = &historical
		}
		out.Presentations[name] = copied
	}
	out.Sessions = make(map[string]conversation.State, len(s.Sessions))
	for key, state := range s.Sessions {
		out.Sessions[key] = state
	}
	return out
}
