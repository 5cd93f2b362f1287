package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lhdbsbz/vetd/internal/audit"
	"github.com/lhdbsbz/vetd/internal/platform"
	"github.com/lhdbsbz/vetd/internal/policy"
)

type joinAction struct {
	RequestID string
	Approve   bool
}

type msgAction struct {
	MessageID string
	ChatID    string
	AuthorID  string
	Spam      bool
}

type fakeAdapter struct {
	mu          sync.Mutex
	requests    []platform.JoinRequest
	pollCalls   int
	joinActions []joinAction
	msgActions  []msgAction
	joinErr     error
	msgErr      error
	onMsg       func(platform.InboundMessage)
}

func (f *fakeAdapter) PollJoinRequests(ctx context.Context) ([]platform.JoinRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	return f.requests, nil
}

func (f *fakeAdapter) OnMessageCreated(fn func(platform.InboundMessage)) {
	f.onMsg = fn
}

func (f *fakeAdapter) ApplyJoinDecision(ctx context.Context, requestID string, approve bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinActions = append(f.joinActions, joinAction{RequestID: requestID, Approve: approve})
	return f.joinErr
}

func (f *fakeAdapter) ApplyMessageDecision(ctx context.Context, messageID, chatID, authorID string, spam bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgActions = append(f.msgActions, msgAction{MessageID: messageID, ChatID: chatID, AuthorID: authorID, Spam: spam})
	return f.msgErr
}

type fakeVetter struct {
	mu        sync.Mutex
	joinDec   policy.JoinDecision
	joinErr   error
	msgDec    policy.MessageDecision
	msgErr    error
	joinCalls int
	msgCalls  int
	block     chan struct{} // if set, VetJoin blocks until closed
	started   chan struct{} // if set, closed when VetJoin begins
}

func (f *fakeVetter) VetJoin(ctx context.Context, in policy.JoinInput) (policy.JoinDecision, error) {
	f.mu.Lock()
	f.joinCalls++
	block, started := f.block, f.started
	f.mu.Unlock()
	if started != nil {
		close(started)
		f.mu.Lock()
		f.started = nil
		f.mu.Unlock()
	}
	if block != nil {
		<-block
	}
	return f.joinDec, f.joinErr
}

func (f *fakeVetter) VetMessage(ctx context.Context, in policy.MessageInput) (policy.MessageDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgCalls++
	return f.msgDec, f.msgErr
}

func newTestPipeline(t *testing.T, adapter *fakeAdapter, vetter *fakeVetter) *Pipeline {
	t.Helper()
	p := New(adapter, vetter, audit.NewLogger(t.TempDir()))
	t.Cleanup(p.Close)
	return p
}

func todayRecords(t *testing.T, p *Pipeline) []audit.Record {
	t.Helper()
	recs, err := p.Audit.ReadDay(time.Now().UTC())
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	return recs
}

func TestJoinApprovedInvokesApproveAndLogs(t *testing.T) {
	adapter := &fakeAdapter{}
	vetter := &fakeVetter{joinDec: policy.JoinDecision{Decision: "approve", Reason: "ok"}}
	p := newTestPipeline(t, adapter, vetter)

	p.HandleJoin(context.Background(), platform.JoinRequest{RequestID: "req-1", DisplayName: "Jo Smith", Note: "coming for the video"})

	if len(adapter.joinActions) != 1 {
		t.Fatalf("expected 1 join action, got %d", len(adapter.joinActions))
	}
	if !adapter.joinActions[0].Approve {
		t.Fatal("expected approve action")
	}

	recs := todayRecords(t, p)
	if len(recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.EventType != "join" || rec.Decision != "approve" || rec.Reason != "ok" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.FallbackApplied {
		t.Fatal("expected fallbackApplied false")
	}
	if rec.SubjectID != "req-1" {
		t.Fatalf("expected subject req-1, got %s", rec.SubjectID)
	}
}

func TestJoinFallsBackToRejectOnVetFailure(t *testing.T) {
	adapter := &fakeAdapter{}
	vetter := &fakeVetter{joinErr: &policy.TimeoutError{Err: context.DeadlineExceeded}}
	p := newTestPipeline(t, adapter, vetter)

	p.HandleJoin(context.Background(), platform.JoinRequest{RequestID: "req-1"})

	if len(adapter.joinActions) != 1 {
		t.Fatalf("expected 1 join action, got %d", len(adapter.joinActions))
	}
	if adapter.joinActions[0].Approve {
		t.Fatal("fallback must never approve")
	}

	recs := todayRecords(t, p)
	if len(recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Decision != "reject" {
		t.Fatalf("expected reject, got %s", rec.Decision)
	}
	if !rec.FallbackApplied {
		t.Fatal("expected fallbackApplied true")
	}
	if !strings.Contains(rec.Reason, "timeout") {
		t.Fatalf("expected failure description in reason, got %q", rec.Reason)
	}
}

func TestJoinActionFailureKeepsDecision(t *testing.T) {
	adapter := &fakeAdapter{joinErr: errors.New("user already left")}
	vetter := &fakeVetter{joinDec: policy.JoinDecision{Decision: "approve", Reason: "ok"}}
	p := newTestPipeline(t, adapter, vetter)

	p.HandleJoin(context.Background(), platform.JoinRequest{RequestID: "req-1"})

	recs := todayRecords(t, p)
	if len(recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Decision != "approve" {
		t.Fatalf("action failure must not change decision, got %s", rec.Decision)
	}
	if !strings.Contains(rec.Reason, "action failed") || !strings.Contains(rec.Reason, "user already left") {
		t.Fatalf("expected action failure detail in reason, got %q", rec.Reason)
	}
	if rec.FallbackApplied {
		t.Fatal("action failure is not a fallback")
	}
}

func TestSelfMessageIsNeverEvaluated(t *testing.T) {
	adapter := &fakeAdapter{}
	vetter := &fakeVetter{}
	p := newTestPipeline(t, adapter, vetter)

	p.HandleMessage(context.Background(), platform.InboundMessage{MessageID: "m1", IsFromSelf: true, Body: "hi"})

	if vetter.msgCalls != 0 {
		t.Fatal("expected no policy call for self message")
	}
	if recs := todayRecords(t, p); len(recs) != 0 {
		t.Fatalf("expected no audit record, got %d", len(recs))
	}
}

func TestSpamMessageDeletedAndLogged(t *testing.T) {
	adapter := &fakeAdapter{}
	vetter := &fakeVetter{msgDec: policy.MessageDecision{IsSpam: true, Reason: "link spam"}}
	p := newTestPipeline(t, adapter, vetter)

	p.HandleMessage(context.Background(), platform.InboundMessage{MessageID: "m1", ChatID: "c1", AuthorID: "a1", Body: "buy now"})

	if len(adapter.msgActions) != 1 {
		t.Fatalf("expected 1 message action, got %d", len(adapter.msgActions))
	}
	act := adapter.msgActions[0]
	if !act.Spam || act.MessageID != "m1" || act.ChatID != "c1" || act.AuthorID != "a1" {
		t.Fatalf("unexpected action: %+v", act)
	}

	recs := todayRecords(t, p)
	if len(recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(recs))
	}
	if recs[0].Decision != "delete" || recs[0].Reason != "link spam" {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
}

func TestSpamActionFailureStillRecordsDelete(t *testing.T) {
	adapter := &fakeAdapter{msgErr: errors.New("delete message: gone")}
	vetter := &fakeVetter{msgDec: policy.MessageDecision{IsSpam: true, Reason: "link spam"}}
	p := newTestPipeline(t, adapter, vetter)

	p.HandleMessage(context.Background(), platform.InboundMessage{MessageID: "m1", ChatID: "c1", AuthorID: "a1"})

	recs := todayRecords(t, p)
	if len(recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(recs))
	}
	if recs[0].Decision != "delete" {
		t.Fatalf("expected decision delete, got %s", recs[0].Decision)
	}
	if !strings.Contains(recs[0].Reason, "action failed") {
		t.Fatalf("expected action failure in reason, got %q", recs[0].Reason)
	}
}

func TestCleanMessageIsKeptWithoutAction(t *testing.T) {
	adapter := &fakeAdapter{}
	vetter := &fakeVetter{msgDec: policy.MessageDecision{IsSpam: false, Reason: "clean"}}
	p := newTestPipeline(t, adapter, vetter)

	p.HandleMessage(context.Background(), platform.InboundMessage{MessageID: "m1", ChatID: "c1", AuthorID: "a1", Body: "hello"})

	if len(adapter.msgActions) != 0 {
		t.Fatalf("expected no message action, got %d", len(adapter.msgActions))
	}
	recs := todayRecords(t, p)
	if len(recs) != 1 || recs[0].Decision != "keep" {
		t.Fatalf("expected one keep record, got %+v", recs)
	}
}

func TestMessageFallbackKeeps(t *testing.T) {
	adapter := &fakeAdapter{}
	vetter := &fakeVetter{msgErr: &policy.TransportError{Err: errors.New("connection refused")}}
	p := newTestPipeline(t, adapter, vetter)

	p.HandleMessage(context.Background(), platform.InboundMessage{MessageID: "m1", ChatID: "c1", AuthorID: "a1", Body: "hello"})

	if len(adapter.msgActions) != 0 {
		t.Fatal("fallback must never delete")
	}
	recs := todayRecords(t, p)
	if len(recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(recs))
	}
	if recs[0].Decision != "keep" || !recs[0].FallbackApplied {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
}

func TestDuplicateMessageProcessedOnce(t *testing.T) {
	adapter := &fakeAdapter{}
	vetter := &fakeVetter{msgDec: policy.MessageDecision{IsSpam: false, Reason: "clean"}}
	p := newTestPipeline(t, adapter, vetter)

	msg := platform.InboundMessage{MessageID: "m1", ChatID: "c1", AuthorID: "a1", Body: "hello"}
	p.HandleMessage(context.Background(), msg)
	p.HandleMessage(context.Background(), msg)

	if vetter.msgCalls != 1 {
		t.Fatalf("expected 1 policy call, got %d", vetter.msgCalls)
	}
	if recs := todayRecords(t, p); len(recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(recs))
	}
}

func TestPollDecidesEachRequestOnce(t *testing.T) {
	adapter := &fakeAdapter{requests: []platform.JoinRequest{
		{RequestID: "req-1", DisplayName: "A"},
		{RequestID: "req-2", DisplayName: "B"},
	}}
	vetter := &fakeVetter{joinDec: policy.JoinDecision{Decision: "reject", Reason: "no note"}}
	p := newTestPipeline(t, adapter, vetter)

	p.PollOnce(context.Background())
	// Platform lags and re-surfaces both on the next cycle.
	p.PollOnce(context.Background())

	if len(adapter.joinActions) != 2 {
		t.Fatalf("expected 2 join actions, got %d", len(adapter.joinActions))
	}
	if recs := todayRecords(t, p); len(recs) != 2 {
		t.Fatalf("expected 2 audit records, got %d", len(recs))
	}
}

func TestOverlappingPollCycleIsSkipped(t *testing.T) {
	adapter := &fakeAdapter{requests: []platform.JoinRequest{{RequestID: "req-1"}}}
	vetter := &fakeVetter{
		joinDec: policy.JoinDecision{Decision: "reject", Reason: "slow"},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	p := newTestPipeline(t, adapter, vetter)

	done := make(chan struct{})
	go func() {
		p.PollOnce(context.Background())
		close(done)
	}()

	<-vetter.started
	p.PollOnce(context.Background()) // previous cycle still deciding

	adapter.mu.Lock()
	polls := adapter.pollCalls
	adapter.mu.Unlock()
	if polls != 1 {
		t.Fatalf("expected overlapping cycle to be skipped, got %d polls", polls)
	}

	close(vetter.block)
	<-done
}

func TestAuditWriteFailureDoesNotAbortHandling(t *testing.T) {
	// A regular file where the log directory should be makes every
	// append fail.
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	adapter := &fakeAdapter{}
	vetter := &fakeVetter{
		joinDec: policy.JoinDecision{Decision: "approve", Reason: "ok"},
		msgDec:  policy.MessageDecision{IsSpam: true, Reason: "link spam"},
	}
	p := New(adapter, vetter, audit.NewLogger(blocked))
	t.Cleanup(p.Close)

	p.HandleJoin(context.Background(), platform.JoinRequest{RequestID: "req-1"})
	p.HandleMessage(context.Background(), platform.InboundMessage{MessageID: "m1", ChatID: "c1", AuthorID: "a1", Body: "buy now"})

	// Decisions are still made and actions still applied; the write
	// failure is escalated to diagnostics only.
	if len(adapter.joinActions) != 1 || !adapter.joinActions[0].Approve {
		t.Fatalf("expected approve action despite audit failure, got %+v", adapter.joinActions)
	}
	if len(adapter.msgActions) != 1 || !adapter.msgActions[0].Spam {
		t.Fatalf("expected delete action despite audit failure, got %+v", adapter.msgActions)
	}

	// The next event with a working path through the same pipeline is
	// unaffected.
	p.HandleMessage(context.Background(), platform.InboundMessage{MessageID: "m2", ChatID: "c1", AuthorID: "a2", Body: "hello"})
	if vetter.msgCalls != 2 {
		t.Fatalf("expected subsequent events to keep flowing, got %d policy calls", vetter.msgCalls)
	}
}

func TestEmptyNoteIsValidInput(t *testing.T) {
	adapter := &fakeAdapter{}
	vetter := &fakeVetter{joinDec: policy.JoinDecision{Decision: "reject", Reason: "empty note"}}
	p := newTestPipeline(t, adapter, vetter)

	p.HandleJoin(context.Background(), platform.JoinRequest{RequestID: "req-1", DisplayName: "", Note: ""})

	recs := todayRecords(t, p)
	if len(recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(recs))
	}
	if recs[0].FallbackApplied {
		t.Fatal("empty note is not an error")
	}
}
