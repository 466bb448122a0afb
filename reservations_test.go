package credits_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/session"
	"github.com/xraph/credits/types"
)

func TestReserveReducesAvailableNotCurrent(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 100)

	sess, err := e.Reserve(ctx, "t1", "lead_enrichment", types.Lead(30), time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if sess.Status != session.StatusReserved {
		t.Errorf("status = %s, want reserved", sess.Status)
	}

	bal, _ := e.Balance(ctx, "t1", types.CreditLead)
	if bal.Current != 100 {
		t.Errorf("current = %d, want 100 (holds post nothing)", bal.Current)
	}
	if bal.Available != 70 {
		t.Errorf("available = %d, want 70", bal.Available)
	}
}

func TestReserveRejectsOverHold(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 100)

	if _, err := e.Reserve(ctx, "t1", "op", types.Lead(60), time.Minute); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if _, err := e.Reserve(ctx, "t1", "op", types.Lead(60), time.Minute); !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Fatalf("second reserve: err = %v, want ErrInsufficientCredits", err)
	}
}

func TestConcurrentReservesRespectBalance(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 100)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Reserve(ctx, "t1", "op", types.Lead(60), time.Minute)
		}(i)
	}
	wg.Wait()

	ok, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, credits.ErrInsufficientCredits):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || insufficient != 1 {
		t.Errorf("got %d successes and %d rejections, want exactly 1 of each", ok, insufficient)
	}
}

func TestCommitSettlesAtActualCost(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 100)

	sess, err := e.Reserve(ctx, "t1", "lead_enrichment", types.Lead(10), time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	txns, err := e.Commit(ctx, sess.ID, types.Lead(8))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("commit posted %d transactions, want 1", len(txns))
	}
	if txns[0].NetAmount() != -8 {
		t.Errorf("settlement net = %d, want -8", txns[0].NetAmount())
	}

	bal, _ := e.Balance(ctx, "t1", types.CreditLead)
	if bal.Current != 92 || bal.Available != 92 {
		t.Errorf("balance = %+v, want current 92 available 92 (hold fully released)", bal)
	}

	got, _ := e.GetSession(ctx, sess.ID)
	if got.Status != session.StatusCommitted {
		t.Errorf("session status = %s, want committed", got.Status)
	}
	if got.ActualCost.Get(types.CreditLead) != 8 {
		t.Errorf("actual cost = %d, want 8", got.ActualCost.Get(types.CreditLead))
	}
}

func TestCommitIsTerminal(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 100)
	sess, _ := e.Reserve(ctx, "t1", "op", types.Lead(10), time.Minute)

	if _, err := e.Commit(ctx, sess.ID, types.Lead(8)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := e.Commit(ctx, sess.ID, types.Lead(8)); !errors.Is(err, credits.ErrAlreadyTerminal) {
		t.Errorf("second commit: err = %v, want ErrAlreadyTerminal", err)
	}
	if err := e.Rollback(ctx, sess.ID); !errors.Is(err, credits.ErrAlreadyTerminal) {
		t.Errorf("rollback after commit: err = %v, want ErrAlreadyTerminal", err)
	}

	// The double commit must not double-charge.
	bal, _ := e.Balance(ctx, "t1", types.CreditLead)
	if bal.Current != 92 {
		t.Errorf("balance = %d, want 92", bal.Current)
	}
}

func TestCommitAboveEstimateCheckedAgainstBalance(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 20)
	sess, _ := e.Reserve(ctx, "t1", "op", types.Lead(10), time.Minute)

	// Actual 20 fits: the session's own 10-credit hold is released by the
	// commit, leaving exactly 20 spendable.
	if _, err := e.Commit(ctx, sess.ID, types.Lead(20)); err != nil {
		t.Fatalf("commit at balance: %v", err)
	}

	sess2Seed := types.Lead(5)
	seedBalance(t, e, "t2", types.CreditLead, 10)
	sess2, _ := e.Reserve(ctx, "t2", "op", sess2Seed, time.Minute)
	if _, err := e.Commit(ctx, sess2.ID, types.Lead(11)); !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Errorf("commit above balance: err = %v, want ErrInsufficientCredits", err)
	}
}

func TestCommitZeroActualReleasesHold(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 100)
	sess, _ := e.Reserve(ctx, "t1", "op", types.Lead(10), time.Minute)

	txns, err := e.Commit(ctx, sess.ID, types.Zero())
	if err != nil {
		t.Fatalf("commit with zero actual: %v", err)
	}
	if len(txns) != 0 {
		t.Errorf("zero-cost commit posted %d transactions, want 0", len(txns))
	}

	bal, _ := e.Balance(ctx, "t1", types.CreditLead)
	if bal.Available != 100 {
		t.Errorf("available = %d, want 100", bal.Available)
	}
}

func TestRollbackReleasesHold(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 100)
	sess, _ := e.Reserve(ctx, "t1", "op", types.Lead(30), time.Minute)

	if err := e.Rollback(ctx, sess.ID); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	bal, _ := e.Balance(ctx, "t1", types.CreditLead)
	if bal.Current != 100 || bal.Available != 100 {
		t.Errorf("balance = %+v, want 100/100 with nothing posted", bal)
	}

	got, _ := e.GetSession(ctx, sess.ID)
	if got.Status != session.StatusRolledBack {
		t.Errorf("status = %s, want rolled_back", got.Status)
	}
}

func TestSweepExpiresOverdueSessions(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 100)
	sess, _ := e.Reserve(ctx, "t1", "op", types.Lead(30), time.Minute)

	clock.Advance(2 * time.Minute)

	n, err := e.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("swept %d sessions, want 1", n)
	}

	got, _ := e.GetSession(ctx, sess.ID)
	if got.Status != session.StatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}

	bal, _ := e.Balance(ctx, "t1", types.CreditLead)
	if bal.Available != 100 {
		t.Errorf("available = %d, want 100 after expiry", bal.Available)
	}

	// A second sweep finds nothing; expiry happened exactly once.
	n, err = e.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep expired %d sessions, want 0", n)
	}
}

func TestCommitWinsOverLateSweep(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 100)
	sess, _ := e.Reserve(ctx, "t1", "op", types.Lead(10), time.Minute)

	if _, err := e.Commit(ctx, sess.ID, types.Lead(10)); err != nil {
		t.Fatalf("commit: %v", err)
	}

	clock.Advance(2 * time.Minute)
	n, err := e.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("sweep expired %d committed sessions, want 0", n)
	}

	got, _ := e.GetSession(ctx, sess.ID)
	if got.Status != session.StatusCommitted {
		t.Errorf("status = %s, want committed", got.Status)
	}
}

func TestReserveValidation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		tenantID string
		op       string
		estimate types.Amount
	}{
		{"missing tenant", "", "op", types.Lead(1)},
		{"missing operation type", "t1", "", types.Lead(1)},
		{"zero estimate", "t1", "op", types.Zero()},
		{"negative estimate", "t1", "op", types.Lead(-5)},
		{"unknown credit type", "t1", "op", types.Of("gold", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Reserve(ctx, tt.tenantID, tt.op, tt.estimate, time.Minute); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestMultiTypeReservation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedBalance(t, e, "t1", types.CreditLead, 50)
	seedBalance(t, e, "t1", types.CreditEmail, 50)

	est := types.Lead(20).With(types.CreditEmail, 60)
	if _, err := e.Reserve(ctx, "t1", "campaign", est, time.Minute); !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Fatalf("reserve with one short type: err = %v, want ErrInsufficientCredits", err)
	}

	est = types.Lead(20).With(types.CreditEmail, 40)
	sess, err := e.Reserve(ctx, "t1", "campaign", est, time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	txns, err := e.Commit(ctx, sess.ID, types.Lead(15).With(types.CreditEmail, 35))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("commit posted %d transactions, want 2", len(txns))
	}

	lead, _ := e.Balance(ctx, "t1", types.CreditLead)
	email, _ := e.Balance(ctx, "t1", types.CreditEmail)
	if lead.Current != 35 || email.Current != 15 {
		t.Errorf("balances lead=%d email=%d, want 35/15", lead.Current, email.Current)
	}
}
