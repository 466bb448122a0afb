package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/session"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

func newRunnerHarness(t *testing.T) (*Runner, *credits.Engine) {
	t.Helper()
	engine := credits.New(memory.New())
	runner := NewRunner(engine)
	return runner, engine
}

func fund(t *testing.T, e *credits.Engine, tenantID string, n int64) {
	t.Helper()
	_, err := e.Post(context.Background(), credits.PostRequest{
		TenantID:       tenantID,
		Type:           types.CreditLead,
		Amount:         n,
		Kind:           transaction.KindPurchase,
		IdempotencyKey: "fund:" + tenantID,
	})
	if err != nil {
		t.Fatalf("fund tenant: %v", err)
	}
}

func TestRunnerCommitsOnSuccess(t *testing.T) {
	r, e := newRunnerHarness(t)
	ctx := context.Background()
	fund(t, e, "t1", 100)

	err := r.Do(ctx, Execution{
		TenantID:      "t1",
		OperationType: "lead_enrichment",
		Estimate:      types.Lead(10),
		Work: func(ctx context.Context) (types.Amount, error) {
			return types.Lead(8), nil
		},
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}

	bal, _ := e.Balance(ctx, "t1", types.CreditLead)
	if bal.Current != 92 || bal.Available != 92 {
		t.Errorf("balance = %+v, want 92/92", bal)
	}

	sessions, _ := e.ListSessions(ctx, "t1", session.ListOpts{})
	if len(sessions) != 1 || sessions[0].Status != session.StatusCommitted {
		t.Errorf("sessions = %+v, want one committed session", sessions)
	}
}

func TestRunnerRollsBackFailedWork(t *testing.T) {
	r, e := newRunnerHarness(t)
	ctx := context.Background()
	fund(t, e, "t1", 100)

	errWork := errors.New("provider timeout")
	err := r.Do(ctx, Execution{
		TenantID:      "t1",
		OperationType: "lead_enrichment",
		Estimate:      types.Lead(10),
		Work: func(ctx context.Context) (types.Amount, error) {
			return nil, errWork
		},
	})
	if !errors.Is(err, errWork) {
		t.Fatalf("do: err = %v, want work error", err)
	}

	// The hold is released; nothing was charged.
	bal, _ := e.Balance(ctx, "t1", types.CreditLead)
	if bal.Current != 100 || bal.Available != 100 {
		t.Errorf("balance = %+v, want 100/100", bal)
	}
	sessions, _ := e.ListSessions(ctx, "t1", session.ListOpts{})
	if len(sessions) != 1 || sessions[0].Status != session.StatusRolledBack {
		t.Errorf("sessions = %+v, want one rolled back session", sessions)
	}

	// The failure is on the retry schedule.
	if stats := r.Queue().Stats(); stats.Pending != 1 {
		t.Errorf("queue stats = %+v, want 1 pending retry", stats)
	}
}

func TestRunnerDeadLettersInsufficientCredits(t *testing.T) {
	r, e := newRunnerHarness(t)
	ctx := context.Background()
	fund(t, e, "t1", 5)

	err := r.Do(ctx, Execution{
		TenantID:      "t1",
		OperationType: "lead_enrichment",
		Estimate:      types.Lead(10),
		Work: func(ctx context.Context) (types.Amount, error) {
			t.Fatal("work must not run when the reserve fails")
			return nil, nil
		},
	})
	if !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Fatalf("do: err = %v, want ErrInsufficientCredits", err)
	}

	stats := r.Queue().Stats()
	if stats.Pending != 0 || stats.Dead != 1 {
		t.Errorf("queue stats = %+v, want straight to dead letter", stats)
	}

	// A balance failure is not a service failure; the breaker stays closed.
	if r.Breakers().For("lead_enrichment").State() != StateClosed {
		t.Error("breaker opened on a balance error")
	}
}

func TestRunnerDefersWhenBreakerOpen(t *testing.T) {
	r, e := newRunnerHarness(t)
	ctx := context.Background()
	fund(t, e, "t1", 100)

	r.Breakers().Trip("lead_enrichment", "drift")

	ran := false
	err := r.Do(ctx, Execution{
		TenantID:      "t1",
		OperationType: "lead_enrichment",
		Estimate:      types.Lead(10),
		Work: func(ctx context.Context) (types.Amount, error) {
			ran = true
			return types.Lead(10), nil
		},
	})
	if !errors.Is(err, credits.ErrCircuitOpen) {
		t.Fatalf("do: err = %v, want ErrCircuitOpen", err)
	}
	if ran {
		t.Error("work ran despite open breaker")
	}

	// Deferred without burning an attempt.
	if stats := r.Queue().Stats(); stats.Pending != 1 {
		t.Errorf("queue stats = %+v, want 1 pending", stats)
	}

	// Once the breaker resets, the deferred execution drains successfully.
	r.Breakers().Reset("lead_enrichment")
	r.Queue().mu.Lock()
	for _, it := range r.Queue().pending {
		it.NextRun = time.Now()
	}
	r.Queue().mu.Unlock()
	r.Queue().ProcessDue(ctx)

	bal, _ := e.Balance(ctx, "t1", types.CreditLead)
	if bal.Current != 90 {
		t.Errorf("balance after drained retry = %d, want 90", bal.Current)
	}
}

func TestRunnerBreakerOpensAfterRepeatedFailures(t *testing.T) {
	r, e := newRunnerHarness(t)
	ctx := context.Background()
	fund(t, e, "t1", 1000)

	errWork := errors.New("provider down")
	exec := Execution{
		TenantID:      "t1",
		OperationType: "lead_enrichment",
		Estimate:      types.Lead(10),
		Work: func(ctx context.Context) (types.Amount, error) {
			return nil, errWork
		},
	}

	for i := 0; i < 3; i++ {
		if err := r.Do(ctx, exec); !errors.Is(err, errWork) {
			t.Fatalf("do %d: %v", i, err)
		}
	}

	if r.Breakers().For("lead_enrichment").State() != StateOpen {
		t.Error("breaker still closed after failure threshold")
	}
	if err := r.Do(ctx, exec); !errors.Is(err, credits.ErrCircuitOpen) {
		t.Errorf("do with open breaker: err = %v, want ErrCircuitOpen", err)
	}
}
