package credits

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/store"
)

// BreakerTripper gates spending per tenant. The reliability package provides
// an implementation; the zero value of the engine allows everything.
type BreakerTripper interface {
	// Allow reports whether spending operations for the tenant may proceed.
	Allow(tenantID string) bool
	// Trip opens the tenant's breaker, e.g. after the audit job finds
	// balance drift above the configured threshold.
	Trip(tenantID string, reason string)
}

const lockStripes = 64

// Engine is the credit ledger and reservation engine.
//
// All balance-affecting operations for a tenant are serialized through a
// striped mutex, so the check-balance-then-append sequence is atomic per
// tenant without store-level locking.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	breaker BreakerTripper

	tenantLocks [lockStripes]sync.Mutex

	// Background workers
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Configuration
	sweepInterval     time.Duration
	auditInterval     time.Duration
	auditThreshold    int64
	defaultSessionTTL time.Duration

	now func() time.Time
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:             s,
		plugins:           plugin.NewRegistry(),
		logger:            slog.Default(),
		stopChan:          make(chan struct{}),
		sweepInterval:     30 * time.Second,
		auditInterval:     time.Hour,
		auditThreshold:    0,
		defaultSessionTTL: 15 * time.Minute,
		now:               time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithSweepInterval sets how often expired reservations are swept.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.sweepInterval = d
	}
}

// WithAuditInterval sets how often the reconciliation job runs.
func WithAuditInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.auditInterval = d
	}
}

// WithAuditThreshold sets the balance drift, in credits, above which the
// audit job trips the tenant's spending breaker. Zero trips on any drift.
func WithAuditThreshold(n int64) Option {
	return func(e *Engine) {
		e.auditThreshold = n
	}
}

// WithBreakerTripper wires a circuit breaker into spending operations.
func WithBreakerTripper(b BreakerTripper) Option {
	return func(e *Engine) {
		e.breaker = b
	}
}

// WithDefaultSessionTTL sets the expiry applied to reservations created
// without an explicit TTL.
func WithDefaultSessionTTL(d time.Duration) Option {
	return func(e *Engine) {
		e.defaultSessionTTL = d
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Start migrates the store and begins background workers.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	e.wg.Add(2)
	go e.sweepWorker()
	go e.auditWorker()

	e.logger.Info("credit engine started",
		"sweep_interval", e.sweepInterval,
		"audit_interval", e.auditInterval,
	)

	return nil
}

// Stop shuts down the Engine.
func (e *Engine) Stop() error {
	close(e.stopChan)
	e.wg.Wait()

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// lockTenant serializes balance-affecting operations for one tenant.
// Tenants hash onto a fixed set of stripes; unrelated tenants may share a
// stripe, which costs throughput but never correctness.
func (e *Engine) lockTenant(tenantID string) func() {
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	mu := &e.tenantLocks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) allowSpend(tenantID string) bool {
	if e.breaker == nil {
		return true
	}
	return e.breaker.Allow(tenantID)
}
