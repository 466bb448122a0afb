package credits_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/audit"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// recordingBreaker captures Trip calls for assertions.
type recordingBreaker struct {
	mu      sync.Mutex
	tripped map[string]string
	blocked map[string]bool
}

func newRecordingBreaker() *recordingBreaker {
	return &recordingBreaker{tripped: map[string]string{}, blocked: map[string]bool{}}
}

func (b *recordingBreaker) Allow(tenantID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.blocked[tenantID]
}

func (b *recordingBreaker) Trip(tenantID, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripped[tenantID] = reason
	b.blocked[tenantID] = true
}

func (b *recordingBreaker) trippedReason(tenantID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	reason, ok := b.tripped[tenantID]
	return reason, ok
}

func TestAuditCleanLedger(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 100)
	_, _ = e.Post(ctx, credits.PostRequest{
		TenantID: "t1", Type: types.CreditLead, Amount: -30,
		Kind: transaction.KindUsage, IdempotencyKey: "u1",
	})

	report, err := e.RunAudit(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(report.Discrepancies) != 0 {
		t.Errorf("clean ledger reported %d discrepancies", len(report.Discrepancies))
	}
	if report.TenantsScanned != 1 {
		t.Errorf("tenants scanned = %d, want 1", report.TenantsScanned)
	}

	stored, err := e.GetAuditReport(ctx, report.ID)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if stored.ID != report.ID {
		t.Errorf("stored report id = %s, want %s", stored.ID, report.ID)
	}
}

func TestAuditDetectsDriftAndTripsBreaker(t *testing.T) {
	breaker := newRecordingBreaker()
	e, st, _ := newTestEngine(t, credits.WithBreakerTripper(breaker))
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 100)

	// Corrupt the cache behind the engine's back.
	if err := st.SetCachedBalance(ctx, "t1", types.CreditLead, 175); err != nil {
		t.Fatalf("corrupt cache: %v", err)
	}

	report, err := e.RunAudit(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(report.Discrepancies) != 1 {
		t.Fatalf("got %d discrepancies, want 1", len(report.Discrepancies))
	}

	d := report.Discrepancies[0]
	if d.Severity != audit.SeverityDrift {
		t.Errorf("severity = %s, want drift", d.Severity)
	}
	if d.Cached != 175 || d.Computed != 100 {
		t.Errorf("discrepancy = cached %d computed %d, want 175/100", d.Cached, d.Computed)
	}
	if d.Delta() != 75 {
		t.Errorf("delta = %d, want 75", d.Delta())
	}

	if _, ok := breaker.trippedReason("t1"); !ok {
		t.Error("breaker was not tripped for drifted tenant")
	}

	// The audit is read-only: the cache stays wrong until repaired.
	bal, _ := e.Balance(ctx, "t1", types.CreditLead)
	if bal.Current != 175 {
		t.Errorf("audit corrected the cache to %d; it must not write", bal.Current)
	}
}

func TestAuditThresholdSuppressesSmallDrift(t *testing.T) {
	breaker := newRecordingBreaker()
	e, st, _ := newTestEngine(t,
		credits.WithBreakerTripper(breaker),
		credits.WithAuditThreshold(10),
	)
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 100)
	if err := st.SetCachedBalance(ctx, "t1", types.CreditLead, 105); err != nil {
		t.Fatalf("corrupt cache: %v", err)
	}

	report, err := e.RunAudit(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(report.Discrepancies) != 1 {
		t.Fatalf("got %d discrepancies, want 1 (drift is still reported)", len(report.Discrepancies))
	}
	if _, ok := breaker.trippedReason("t1"); ok {
		t.Error("breaker tripped for drift below threshold")
	}
}

func TestTrippedBreakerBlocksSpending(t *testing.T) {
	breaker := newRecordingBreaker()
	e, _, _ := newTestEngine(t, credits.WithBreakerTripper(breaker))
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 100)
	breaker.Trip("t1", "manual")

	if _, err := e.Post(ctx, credits.PostRequest{
		TenantID: "t1", Type: types.CreditLead, Amount: -10,
		Kind: transaction.KindUsage, IdempotencyKey: "u1",
	}); err != credits.ErrCircuitOpen {
		t.Errorf("usage with open breaker: err = %v, want ErrCircuitOpen", err)
	}
	if _, err := e.Reserve(ctx, "t1", "op", types.Lead(10), time.Minute); err != credits.ErrCircuitOpen {
		t.Errorf("reserve with open breaker: err = %v, want ErrCircuitOpen", err)
	}

	// Grants are not spending; they stay open so the tenant can recover.
	if _, err := e.Post(ctx, credits.PostRequest{
		TenantID: "t1", Type: types.CreditLead, Amount: 50,
		Kind: transaction.KindPurchase, IdempotencyKey: "p2",
	}); err != nil {
		t.Errorf("purchase with open breaker: %v", err)
	}
}

func TestAuditReportsStuckSessions(t *testing.T) {
	e, _, clock := newTestEngine(t, credits.WithSweepInterval(30*time.Second))
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 100)
	sess, _ := e.Reserve(ctx, "t1", "op", types.Lead(10), time.Minute)

	// Two sweep intervals past expiry without a sweep run.
	clock.Advance(time.Minute + 2*30*time.Second + time.Second)

	report, err := e.RunAudit(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}

	var found bool
	for _, d := range report.Discrepancies {
		if d.Severity == audit.SeverityStuck && d.SessionID == sess.ID {
			found = true
		}
	}
	if !found {
		t.Error("stuck session not reported")
	}
}

func TestRepairBalance(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 100)
	if err := st.SetCachedBalance(ctx, "t1", types.CreditLead, 9999); err != nil {
		t.Fatalf("corrupt cache: %v", err)
	}

	repaired, err := e.RepairBalance(ctx, "t1", types.CreditLead)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if repaired != 100 {
		t.Errorf("repaired balance = %d, want 100", repaired)
	}

	bal, _ := e.Balance(ctx, "t1", types.CreditLead)
	if bal.Current != 100 {
		t.Errorf("cache after repair = %d, want 100", bal.Current)
	}
}

func TestListAuditReportsOnlyDirty(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 100)

	if _, err := e.RunAudit(ctx); err != nil {
		t.Fatalf("clean audit: %v", err)
	}

	if err := st.SetCachedBalance(ctx, "t1", types.CreditLead, 50); err != nil {
		t.Fatalf("corrupt cache: %v", err)
	}
	dirty, err := e.RunAudit(ctx)
	if err != nil {
		t.Fatalf("dirty audit: %v", err)
	}

	all, err := e.ListAuditReports(ctx, audit.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d reports, want 2", len(all))
	}

	flagged, err := e.ListAuditReports(ctx, audit.ListOpts{OnlyDirty: true})
	if err != nil {
		t.Fatalf("list dirty: %v", err)
	}
	if len(flagged) != 1 || flagged[0].ID != dirty.ID {
		t.Errorf("dirty filter returned %d reports, want just %s", len(flagged), dirty.ID)
	}
}
