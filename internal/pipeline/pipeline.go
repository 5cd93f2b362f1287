package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lhdbsbz/vetd/internal/audit"
	"github.com/lhdbsbz/vetd/internal/platform"
	"github.com/lhdbsbz/vetd/internal/policy"
)

// Decision values recorded in the audit trail.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
	DecisionDelete  = "delete"
	DecisionKeep    = "keep"
)

// Vetter is the policy-service boundary the pipeline evaluates events
// against. *policy.Client implements it.
type Vetter interface {
	VetJoin(ctx context.Context, in policy.JoinInput) (policy.JoinDecision, error)
	VetMessage(ctx context.Context, in policy.MessageInput) (policy.MessageDecision, error)
}

// Pipeline runs each event through one pass:
// received → evaluating → deciding → acting → logged. Every evaluated
// event produces exactly one audit record, on every branch. Policy
// failures fall back (join→reject, message→keep) and never escape;
// action failures are folded into the record's reason without changing
// the recorded decision.
type Pipeline struct {
	Adapter platform.Adapter
	Vetter  Vetter
	Audit   *audit.Logger

	dedup *Dedup

	// Join requests decided in this process's lifetime; guards against
	// the platform re-surfacing an already-actioned request before it
	// reflects the action.
	resolvedMu sync.Mutex
	resolved   map[string]struct{}

	// Poll cycles must not overlap: a second tick is skipped while the
	// previous cycle's requests are still being decided.
	pollMu sync.Mutex
}

func New(adapter platform.Adapter, vetter Vetter, auditLog *audit.Logger) *Pipeline {
	p := &Pipeline{
		Adapter:  adapter,
		Vetter:   vetter,
		Audit:    auditLog,
		dedup:    NewDedup(10 * time.Minute),
		resolved: make(map[string]struct{}),
	}
	adapter.OnMessageCreated(func(msg platform.InboundMessage) {
		go p.HandleMessage(context.Background(), msg)
	})
	return p
}

// Close releases the pipeline's background resources.
func (p *Pipeline) Close() {
	p.dedup.Stop()
}

// PollOnce fetches pending join requests and decides each in order.
// Skips the cycle entirely if the previous one is still running.
func (p *Pipeline) PollOnce(ctx context.Context) {
	if !p.pollMu.TryLock() {
		slog.Warn("join poll skipped, previous cycle still running")
		return
	}
	defer p.pollMu.Unlock()

	requests, err := p.Adapter.PollJoinRequests(ctx)
	if err != nil {
		slog.Warn("join poll failed", "error", err)
		return
	}
	for _, req := range requests {
		p.HandleJoin(ctx, req)
	}
}

// HandleJoin decides one pending join request. Requests already resolved
// in this process's lifetime are ignored.
func (p *Pipeline) HandleJoin(ctx context.Context, req platform.JoinRequest) {
	p.resolvedMu.Lock()
	if _, done := p.resolved[req.RequestID]; done {
		p.resolvedMu.Unlock()
		return
	}
	p.resolved[req.RequestID] = struct{}{}
	p.resolvedMu.Unlock()

	t0 := time.Now()

	decision := DecisionReject
	reason := ""
	fallback := false

	dec, err := p.Vetter.VetJoin(ctx, policy.JoinInput{Name: req.DisplayName, Note: req.Note})
	if err != nil {
		// Deny by default: a false rejection is recoverable by a human
		// invite, a false approval is not.
		fallback = true
		reason = err.Error()
		slog.Warn("join vet failed, falling back to reject", "request", req.RequestID, "error", err)
	} else {
		decision = dec.Decision
		reason = dec.Reason
	}

	if actErr := p.Adapter.ApplyJoinDecision(ctx, req.RequestID, decision == DecisionApprove); actErr != nil {
		slog.Error("join action failed", "request", req.RequestID, "decision", decision, "error", actErr)
		reason = appendDetail(reason, "action failed: "+actErr.Error())
	}

	p.log(audit.Record{
		Timestamp:       time.Now().UTC(),
		EventType:       "join",
		SubjectID:       req.RequestID,
		Decision:        decision,
		Reason:          reason,
		LatencyMs:       time.Since(t0).Milliseconds(),
		FallbackApplied: fallback,
	})
}

// HandleMessage decides one newly created message. Self-authored
// messages are never evaluated: no policy call, no audit record.
func (p *Pipeline) HandleMessage(ctx context.Context, msg platform.InboundMessage) {
	if msg.IsFromSelf {
		return
	}
	if p.dedup.IsDuplicate(msg.MessageID) {
		return
	}

	t0 := time.Now()

	decision := DecisionKeep
	reason := ""
	fallback := false

	dec, err := p.Vetter.VetMessage(ctx, policy.MessageInput{Body: msg.Body, Author: msg.AuthorID})
	if err != nil {
		// Keep by default: deleting on an unverified classifier failure
		// is destructive and irreversible for the sender.
		fallback = true
		reason = err.Error()
		slog.Warn("message vet failed, keeping message", "message", msg.MessageID, "error", err)
	} else {
		reason = dec.Reason
		if dec.IsSpam {
			decision = DecisionDelete
		}
	}

	if decision == DecisionDelete {
		if actErr := p.Adapter.ApplyMessageDecision(ctx, msg.MessageID, msg.ChatID, msg.AuthorID, true); actErr != nil {
			slog.Error("message action failed", "message", msg.MessageID, "error", actErr)
			reason = appendDetail(reason, "action failed: "+actErr.Error())
		}
	}

	p.log(audit.Record{
		Timestamp:       time.Now().UTC(),
		EventType:       "message",
		SubjectID:       msg.MessageID,
		Decision:        decision,
		Reason:          reason,
		LatencyMs:       time.Since(t0).Milliseconds(),
		FallbackApplied: fallback,
	})
}

// log writes the terminal audit record. A write failure is escalated to
// diagnostics but never aborts event handling.
func (p *Pipeline) log(rec audit.Record) {
	if err := p.Audit.Append(rec); err != nil {
		slog.Error("audit append failed", "eventType", rec.EventType, "subject", rec.SubjectID, "error", err)
	}
}

func appendDetail(reason, detail string) string {
	if reason == "" {
		return detail
	}
	return reason + "; " + detail
}
