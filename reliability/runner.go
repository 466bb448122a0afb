package reliability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// WorkFunc performs the credit-consuming work of an execution and reports
// the actual cost. It runs between Reserve and Commit; the runner settles
// the session whatever the outcome.
type WorkFunc func(ctx context.Context) (types.Amount, error)

// Execution is one automation run that spends credits.
type Execution struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	OperationType string        `json:"operation_type"`
	Estimate      types.Amount  `json:"estimate"`
	TTL           time.Duration `json:"ttl"`
	Work          WorkFunc      `json:"-"`
}

// Runner drives executions through reserve, work, and settle. Every session
// it opens reaches a terminal state before Do returns: commit on success,
// rollback on any failure. The expiry sweep remains only a last resort for
// process crashes.
type Runner struct {
	engine   *credits.Engine
	breakers *BreakerSet
	queue    *RetryQueue
	logger   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithBreakers sets the breaker set shared with other components.
func WithBreakers(b *BreakerSet) RunnerOption {
	return func(r *Runner) {
		r.breakers = b
	}
}

// WithQueue sets the retry queue.
func WithQueue(q *RetryQueue) RunnerOption {
	return func(r *Runner) {
		r.queue = q
	}
}

// NewRunner creates a Runner bound to an engine. The runner wires itself as
// the queue's dispatch target.
func NewRunner(engine *credits.Engine, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breakers == nil {
		r.breakers = NewBreakerSet(DefaultBreakerConfig(), r.logger)
	}
	if r.queue == nil {
		r.queue = NewRetryQueue(5, time.Second, r.logger)
	}
	r.queue.SetDispatch(r.retry)
	return r
}

// Breakers returns the runner's breaker set.
func (r *Runner) Breakers() *BreakerSet { return r.breakers }

// Queue returns the runner's retry queue.
func (r *Runner) Queue() *RetryQueue { return r.queue }

// Start begins the retry worker.
func (r *Runner) Start() { r.queue.Start() }

// Stop shuts the retry worker down.
func (r *Runner) Stop() { r.queue.Stop() }

// Do runs an execution. A failed run is scheduled for retry with doubling
// delay, except failures that retrying cannot fix:
//
//   - ErrInsufficientCredits goes straight to the dead-letter queue
//   - ErrCircuitOpen defers the execution via the retry queue without
//     counting an attempt
//
// The first error is returned either way so the caller knows the run did
// not complete inline.
func (r *Runner) Do(ctx context.Context, exec Execution) error {
	br := r.breakers.For(exec.OperationType)
	if !br.Allow() {
		r.queue.Schedule(exec, 0, credits.ErrCircuitOpen)
		return credits.ErrCircuitOpen
	}

	err := r.attempt(ctx, exec)
	if err == nil {
		br.RecordSuccess()
		return nil
	}

	if credits.IsBalanceError(err) {
		// Not a service failure: do not count it against the breaker, and
		// do not burn retries on it.
		r.queue.DeadLetter(exec, 1, err)
		return err
	}

	br.RecordFailure(err)
	r.queue.Schedule(exec, 1, err)
	return err
}

// retry is the queue's dispatch target for due items.
func (r *Runner) retry(ctx context.Context, exec Execution) error {
	br := r.breakers.For(exec.OperationType)
	if !br.Allow() {
		return credits.ErrCircuitOpen
	}

	err := r.attempt(ctx, exec)
	if err == nil {
		br.RecordSuccess()
		return nil
	}
	if !credits.IsBalanceError(err) {
		br.RecordFailure(err)
	}
	return err
}

// attempt runs one reserve-work-settle cycle. The session always reaches a
// terminal state before attempt returns.
func (r *Runner) attempt(ctx context.Context, exec Execution) error {
	sess, err := r.engine.Reserve(ctx, exec.TenantID, exec.OperationType, exec.Estimate, exec.TTL)
	if err != nil {
		return err
	}

	actual, workErr := exec.Work(ctx)
	if workErr != nil {
		r.rollback(ctx, sess.ID, workErr)
		return workErr
	}

	if _, err := r.engine.Commit(ctx, sess.ID, actual); err != nil {
		if !errors.Is(err, credits.ErrAlreadyTerminal) {
			r.rollback(ctx, sess.ID, err)
		}
		return err
	}
	return nil
}

// rollback releases a session after a failed attempt. Losing the race to the
// expiry sweep is fine, the hold is released either way.
func (r *Runner) rollback(ctx context.Context, sessionID id.SessionID, cause error) {
	if err := r.engine.Rollback(ctx, sessionID); err != nil && !credits.IsConflict(err) {
		r.logger.Error("failed to roll back session after failed execution",
			"session", sessionID, "cause", cause, "error", err)
	}
}
