package reliability

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/credits"
)

const (
	backoffBase = time.Second
	backoffCap  = 60 * time.Second
)

// calculateBackoff returns the delay before retry number attempt+1.
// Delays double from one second up to the cap.
func calculateBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	backoff := backoffBase
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= backoffCap {
			return backoffCap
		}
	}
	return backoff
}

// ItemStatus of a queued execution.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemDead      ItemStatus = "dead"
	ItemCancelled ItemStatus = "cancelled"
)

// Item is one execution waiting on the retry schedule or parked in the
// dead-letter queue.
type Item struct {
	ID         string     `json:"id"`
	Execution  Execution  `json:"execution"`
	Attempts   int        `json:"attempts"`
	NextRun    time.Time  `json:"next_run"`
	LastError  string     `json:"last_error,omitempty"`
	Status     ItemStatus `json:"status"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	DeadAt     time.Time  `json:"dead_at,omitempty"`
}

// QueueStats summarizes queue depth.
type QueueStats struct {
	Pending int `json:"pending"`
	Dead    int `json:"dead"`
}

// DispatchFunc re-attempts one execution when its retry is due.
type DispatchFunc func(ctx context.Context, exec Execution) error

// RetryQueue schedules failed executions for retry with doubling delay and
// parks them on a dead-letter queue after the retry budget is spent.
//
// The queue is in-memory: it governs live automation traffic, not durable
// job state. Anything that must survive a restart belongs in the ledger.
type RetryQueue struct {
	mu      sync.Mutex
	pending map[string]*Item
	dead    map[string]*Item

	maxRetries   int
	pollInterval time.Duration
	dispatch     DispatchFunc
	logger       *slog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRetryQueue creates a retry queue. dispatch is called for each due item;
// it is set by the Runner at wiring time via SetDispatch when the queue is
// built first.
func NewRetryQueue(maxRetries int, pollInterval time.Duration, logger *slog.Logger) *RetryQueue {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryQueue{
		pending:      make(map[string]*Item),
		dead:         make(map[string]*Item),
		maxRetries:   maxRetries,
		pollInterval: pollInterval,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

// SetDispatch wires the function called for due items.
func (q *RetryQueue) SetDispatch(fn DispatchFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dispatch = fn
}

// Start begins the retry worker.
func (q *RetryQueue) Start() {
	q.wg.Add(1)
	go q.worker()
}

// Stop shuts the retry worker down.
func (q *RetryQueue) Stop() {
	close(q.stopChan)
	q.wg.Wait()
}

// Schedule enqueues an execution for retry after its backoff delay. attempts
// is how many attempts have already been made; once it exceeds the retry
// budget the item goes to the dead-letter queue instead.
func (q *RetryQueue) Schedule(exec Execution, attempts int, cause error) *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := &Item{
		ID:         uuid.NewString(),
		Execution:  exec,
		Attempts:   attempts,
		Status:     ItemPending,
		EnqueuedAt: time.Now(),
	}
	if cause != nil {
		item.LastError = cause.Error()
	}

	if attempts > q.maxRetries {
		q.parkLocked(item)
		return item
	}

	item.NextRun = time.Now().Add(calculateBackoff(attempts))
	q.pending[item.ID] = item

	q.logger.Debug("execution scheduled for retry",
		"item", item.ID, "tenant", exec.TenantID, "op", exec.OperationType,
		"attempts", attempts, "next_run", item.NextRun)
	return item
}

// DeadLetter parks an execution immediately, bypassing the retry schedule.
// Used for failures that retrying cannot fix, like insufficient credits.
func (q *RetryQueue) DeadLetter(exec Execution, attempts int, cause error) *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := &Item{
		ID:         uuid.NewString(),
		Execution:  exec,
		Attempts:   attempts,
		Status:     ItemPending,
		EnqueuedAt: time.Now(),
	}
	if cause != nil {
		item.LastError = cause.Error()
	}
	q.parkLocked(item)
	return item
}

func (q *RetryQueue) parkLocked(item *Item) {
	item.Status = ItemDead
	item.DeadAt = time.Now()
	q.dead[item.ID] = item
	delete(q.pending, item.ID)

	q.logger.Warn("execution moved to dead-letter queue",
		"item", item.ID, "tenant", item.Execution.TenantID,
		"op", item.Execution.OperationType, "attempts", item.Attempts,
		"last_error", item.LastError)
}

// ListDead returns up to limit dead-letter items, oldest first.
func (q *RetryQueue) ListDead(limit int) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]*Item, 0, len(q.dead))
	for _, item := range q.dead {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].DeadAt.Before(items[j].DeadAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Requeue moves a dead-letter item back onto the retry schedule with a fresh
// attempt budget, for manual triage.
func (q *RetryQueue) Requeue(itemID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.dead[itemID]
	if !ok {
		return credits.ErrNotFound
	}
	delete(q.dead, itemID)

	item.Status = ItemPending
	item.Attempts = 0
	item.NextRun = time.Now()
	item.DeadAt = time.Time{}
	q.pending[item.ID] = item

	q.logger.Info("dead-letter item requeued", "item", itemID)
	return nil
}

// Cancel removes a dead-letter item permanently.
func (q *RetryQueue) Cancel(itemID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.dead[itemID]
	if !ok {
		return credits.ErrNotFound
	}
	item.Status = ItemCancelled
	delete(q.dead, itemID)

	q.logger.Info("dead-letter item cancelled", "item", itemID)
	return nil
}

// Stats returns current queue depth.
func (q *RetryQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{Pending: len(q.pending), Dead: len(q.dead)}
}

// ProcessDue dispatches every item whose retry time has arrived. Exposed so
// tests and manual triage can drive the queue without the worker.
func (q *RetryQueue) ProcessDue(ctx context.Context) int {
	q.mu.Lock()
	dispatch := q.dispatch
	now := time.Now()
	var due []*Item
	for _, item := range q.pending {
		if !item.NextRun.After(now) {
			due = append(due, item)
			delete(q.pending, item.ID)
		}
	}
	q.mu.Unlock()

	if dispatch == nil {
		return 0
	}

	for _, item := range due {
		err := dispatch(ctx, item.Execution)
		switch {
		case err == nil:
			q.logger.Info("retried execution succeeded",
				"item", item.ID, "tenant", item.Execution.TenantID, "attempts", item.Attempts+1)

		case credits.IsBalanceError(err):
			// Retrying cannot conjure credits. Park for manual triage.
			item.Attempts++
			item.LastError = err.Error()
			q.mu.Lock()
			q.parkLocked(item)
			q.mu.Unlock()

		default:
			item.Attempts++
			item.LastError = err.Error()
			q.mu.Lock()
			if item.Attempts > q.maxRetries {
				q.parkLocked(item)
			} else {
				item.NextRun = time.Now().Add(calculateBackoff(item.Attempts))
				q.pending[item.ID] = item
			}
			q.mu.Unlock()
		}
	}
	return len(due)
}

func (q *RetryQueue) worker() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopChan:
			return
		case <-ticker.C:
			q.ProcessDue(context.Background())
		}
	}
}
