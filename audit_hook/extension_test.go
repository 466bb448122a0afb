package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/credits"
	audithook "github.com/xraph/credits/audit_hook"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// memRecorder collects audit events in memory.
type memRecorder struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
	err    error
}

func (r *memRecorder) Record(_ context.Context, evt *audithook.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func (r *memRecorder) byAction(action string) []*audithook.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*audithook.AuditEvent
	for _, evt := range r.events {
		if evt.Action == action {
			out = append(out, evt)
		}
	}
	return out
}

func TestLifecycleEventsReachRecorder(t *testing.T) {
	rec := &memRecorder{}
	e := credits.New(memory.New(), credits.WithPlugin(audithook.New(rec)))
	ctx := context.Background()

	grant, err := e.Post(ctx, credits.PostRequest{
		TenantID: "t1", Type: types.CreditLead, Amount: 100,
		Kind: transaction.KindPurchase, IdempotencyKey: "p1",
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := e.Reverse(ctx, grant.ID, "mischarge"); err != nil {
		t.Fatalf("reverse: %v", err)
	}

	sess, err := e.Reserve(ctx, "t1", "op", types.Lead(10), time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := e.Rollback(ctx, sess.ID); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	// Post and reverse each append a ledger row, so two posted events.
	if got := rec.byAction(audithook.ActionTransactionPosted); len(got) != 2 {
		t.Errorf("posted events = %d, want 2", len(got))
	}

	reversed := rec.byAction(audithook.ActionTransactionReversed)
	if len(reversed) != 1 {
		t.Fatalf("reversed events = %d, want 1", len(reversed))
	}
	evt := reversed[0]
	if evt.ResourceID != grant.ID.String() {
		t.Errorf("reversal resource = %s, want parent transaction id", evt.ResourceID)
	}
	if evt.Severity != audithook.SeverityWarning || evt.Category != audithook.CategoryLedger {
		t.Errorf("reversal event = %+v, want warning/ledger", evt)
	}
	if evt.Metadata["tenant_id"] != "t1" {
		t.Errorf("reversal metadata = %+v, want tenant_id t1", evt.Metadata)
	}

	if got := rec.byAction(audithook.ActionSessionReserved); len(got) != 1 {
		t.Errorf("reserved events = %d, want 1", len(got))
	}
	if got := rec.byAction(audithook.ActionSessionRolledBack); len(got) != 1 {
		t.Errorf("rolled back events = %d, want 1", len(got))
	}
}

func TestEnabledActionsFilterEvents(t *testing.T) {
	rec := &memRecorder{}
	ext := audithook.New(rec, audithook.WithEnabledActions(audithook.ActionSessionReserved))
	e := credits.New(memory.New(), credits.WithPlugin(ext))
	ctx := context.Background()

	if _, err := e.Post(ctx, credits.PostRequest{
		TenantID: "t1", Type: types.CreditLead, Amount: 100,
		Kind: transaction.KindPurchase, IdempotencyKey: "p1",
	}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := e.Reserve(ctx, "t1", "op", types.Lead(10), time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 || rec.events[0].Action != audithook.ActionSessionReserved {
		t.Errorf("events = %+v, want only the reserve event", rec.events)
	}
}

func TestRecorderFailureDoesNotBlockEngine(t *testing.T) {
	rec := &memRecorder{err: errors.New("sink down")}
	e := credits.New(memory.New(), credits.WithPlugin(audithook.New(rec)))

	if _, err := e.Post(context.Background(), credits.PostRequest{
		TenantID: "t1", Type: types.CreditLead, Amount: 100,
		Kind: transaction.KindPurchase, IdempotencyKey: "p1",
	}); err != nil {
		t.Fatalf("post failed because the audit sink is down: %v", err)
	}
}
