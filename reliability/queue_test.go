package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/types"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{10, 60 * time.Second},
		{-1, time.Second},
	}
	for _, tt := range tests {
		if got := calculateBackoff(tt.attempt); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestScheduleWithinBudgetStaysPending(t *testing.T) {
	q := NewRetryQueue(3, time.Second, nil)

	item := q.Schedule(Execution{TenantID: "t1", OperationType: "op"}, 1, errors.New("boom"))
	if item.Status != ItemPending {
		t.Errorf("status = %s, want pending", item.Status)
	}

	stats := q.Stats()
	if stats.Pending != 1 || stats.Dead != 0 {
		t.Errorf("stats = %+v, want 1 pending 0 dead", stats)
	}
}

func TestScheduleBeyondBudgetGoesDead(t *testing.T) {
	q := NewRetryQueue(3, time.Second, nil)

	item := q.Schedule(Execution{TenantID: "t1", OperationType: "op"}, 4, errors.New("boom"))
	if item.Status != ItemDead {
		t.Errorf("status = %s, want dead", item.Status)
	}

	stats := q.Stats()
	if stats.Pending != 0 || stats.Dead != 1 {
		t.Errorf("stats = %+v, want 0 pending 1 dead", stats)
	}
}

func TestProcessDueRetriesAndEventuallyParks(t *testing.T) {
	q := NewRetryQueue(2, time.Second, nil)

	calls := 0
	q.SetDispatch(func(ctx context.Context, exec Execution) error {
		calls++
		return errors.New("still broken")
	})

	item := q.Schedule(Execution{TenantID: "t1", OperationType: "op"}, 0, errors.New("boom"))

	// Force each pending item due and drain until the budget is spent.
	for i := 0; i < 4; i++ {
		q.mu.Lock()
		for _, it := range q.pending {
			it.NextRun = time.Now()
		}
		q.mu.Unlock()
		q.ProcessDue(context.Background())
	}

	if calls != 3 {
		t.Errorf("dispatch called %d times, want 3 (attempts 1..3 against budget 2)", calls)
	}
	if q.Stats().Dead != 1 {
		t.Errorf("dead = %d, want 1", q.Stats().Dead)
	}

	dead := q.ListDead(10)
	if len(dead) != 1 || dead[0].ID != item.ID {
		t.Fatalf("dead letter list = %+v, want the original item", dead)
	}
	if dead[0].LastError != "still broken" {
		t.Errorf("last error = %q, want the final dispatch error", dead[0].LastError)
	}
}

func TestProcessDueParksBalanceErrorsImmediately(t *testing.T) {
	q := NewRetryQueue(5, time.Second, nil)

	calls := 0
	q.SetDispatch(func(ctx context.Context, exec Execution) error {
		calls++
		return credits.ErrInsufficientCredits
	})

	q.Schedule(Execution{TenantID: "t1", OperationType: "op", Estimate: types.Lead(10)}, 0, nil)

	q.mu.Lock()
	for _, it := range q.pending {
		it.NextRun = time.Now()
	}
	q.mu.Unlock()
	q.ProcessDue(context.Background())

	if calls != 1 {
		t.Errorf("dispatch called %d times, want 1 (no retries for balance errors)", calls)
	}
	stats := q.Stats()
	if stats.Pending != 0 || stats.Dead != 1 {
		t.Errorf("stats = %+v, want straight to dead letter", stats)
	}
}

func TestDeadLetterBypassesSchedule(t *testing.T) {
	q := NewRetryQueue(5, time.Second, nil)

	item := q.DeadLetter(Execution{TenantID: "t1", OperationType: "op"}, 1, credits.ErrInsufficientCredits)
	if item.Status != ItemDead {
		t.Errorf("status = %s, want dead", item.Status)
	}
	if q.Stats().Pending != 0 {
		t.Error("dead-lettered item still pending")
	}
}

func TestRequeueRestoresAttemptBudget(t *testing.T) {
	q := NewRetryQueue(5, time.Second, nil)

	done := false
	q.SetDispatch(func(ctx context.Context, exec Execution) error {
		done = true
		return nil
	})

	item := q.DeadLetter(Execution{TenantID: "t1", OperationType: "op"}, 6, errors.New("boom"))

	if err := q.Requeue(item.ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if q.Stats().Pending != 1 {
		t.Fatal("requeued item not pending")
	}

	q.ProcessDue(context.Background())
	if !done {
		t.Error("requeued item was not dispatched")
	}

	if err := q.Requeue("no-such-item"); !errors.Is(err, credits.ErrNotFound) {
		t.Errorf("requeue missing item: err = %v, want ErrNotFound", err)
	}
}

func TestCancelRemovesDeadItem(t *testing.T) {
	q := NewRetryQueue(5, time.Second, nil)

	item := q.DeadLetter(Execution{TenantID: "t1", OperationType: "op"}, 1, errors.New("boom"))
	if err := q.Cancel(item.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if q.Stats().Dead != 0 {
		t.Error("cancelled item still in dead letter queue")
	}
	if err := q.Cancel(item.ID); !errors.Is(err, credits.ErrNotFound) {
		t.Errorf("double cancel: err = %v, want ErrNotFound", err)
	}
}
