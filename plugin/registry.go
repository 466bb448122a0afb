package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onTransactionPosted   []OnTransactionPosted
	onTransactionReversed []OnTransactionReversed
	onSessionReserved     []OnSessionReserved
	onSessionCommitted    []OnSessionCommitted
	onSessionRolledBack   []OnSessionRolledBack
	onSessionExpired      []OnSessionExpired
	onAllocationCreated   []OnAllocationCreated
	onRolloverCreated     []OnRolloverCreated
	onRolloverExpired     []OnRolloverExpired
	onDiscrepancyFound    []OnDiscrepancyFound
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnTransactionPosted); ok {
		r.onTransactionPosted = append(r.onTransactionPosted, v)
	}
	if v, ok := p.(OnTransactionReversed); ok {
		r.onTransactionReversed = append(r.onTransactionReversed, v)
	}
	if v, ok := p.(OnSessionReserved); ok {
		r.onSessionReserved = append(r.onSessionReserved, v)
	}
	if v, ok := p.(OnSessionCommitted); ok {
		r.onSessionCommitted = append(r.onSessionCommitted, v)
	}
	if v, ok := p.(OnSessionRolledBack); ok {
		r.onSessionRolledBack = append(r.onSessionRolledBack, v)
	}
	if v, ok := p.(OnSessionExpired); ok {
		r.onSessionExpired = append(r.onSessionExpired, v)
	}
	if v, ok := p.(OnAllocationCreated); ok {
		r.onAllocationCreated = append(r.onAllocationCreated, v)
	}
	if v, ok := p.(OnRolloverCreated); ok {
		r.onRolloverCreated = append(r.onRolloverCreated, v)
	}
	if v, ok := p.(OnRolloverExpired); ok {
		r.onRolloverExpired = append(r.onRolloverExpired, v)
	}
	if v, ok := p.(OnDiscrepancyFound); ok {
		r.onDiscrepancyFound = append(r.onDiscrepancyFound, v)
	}

	r.logger.Info("plugin registered", "name", p.Name())

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitTransactionPosted emits a transaction posted event.
func (r *Registry) EmitTransactionPosted(ctx context.Context, txn interface{}) {
	r.mu.RLock()
	plugins := r.onTransactionPosted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTransactionPosted(ctx, txn)
		}); err != nil {
			r.logger.Warn("plugin OnTransactionPosted failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitTransactionReversed emits a transaction reversed event.
func (r *Registry) EmitTransactionReversed(ctx context.Context, parent, reversal interface{}) {
	r.mu.RLock()
	plugins := r.onTransactionReversed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTransactionReversed(ctx, parent, reversal)
		}); err != nil {
			r.logger.Warn("plugin OnTransactionReversed failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitSessionReserved emits a session reserved event.
func (r *Registry) EmitSessionReserved(ctx context.Context, session interface{}) {
	r.mu.RLock()
	plugins := r.onSessionReserved
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSessionReserved(ctx, session)
		}); err != nil {
			r.logger.Warn("plugin OnSessionReserved failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitSessionCommitted emits a session committed event.
func (r *Registry) EmitSessionCommitted(ctx context.Context, session, txns interface{}) {
	r.mu.RLock()
	plugins := r.onSessionCommitted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSessionCommitted(ctx, session, txns)
		}); err != nil {
			r.logger.Warn("plugin OnSessionCommitted failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitSessionRolledBack emits a session rolled back event.
func (r *Registry) EmitSessionRolledBack(ctx context.Context, session interface{}) {
	r.mu.RLock()
	plugins := r.onSessionRolledBack
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSessionRolledBack(ctx, session)
		}); err != nil {
			r.logger.Warn("plugin OnSessionRolledBack failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitSessionExpired emits a session expired event.
func (r *Registry) EmitSessionExpired(ctx context.Context, session interface{}) {
	r.mu.RLock()
	plugins := r.onSessionExpired
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSessionExpired(ctx, session)
		}); err != nil {
			r.logger.Warn("plugin OnSessionExpired failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitAllocationCreated emits an allocation created event.
func (r *Registry) EmitAllocationCreated(ctx context.Context, alloc interface{}) {
	r.mu.RLock()
	plugins := r.onAllocationCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnAllocationCreated(ctx, alloc)
		}); err != nil {
			r.logger.Warn("plugin OnAllocationCreated failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitRolloverCreated emits a rollover created event.
func (r *Registry) EmitRolloverCreated(ctx context.Context, rollover interface{}) {
	r.mu.RLock()
	plugins := r.onRolloverCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRolloverCreated(ctx, rollover)
		}); err != nil {
			r.logger.Warn("plugin OnRolloverCreated failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitRolloverExpired emits a rollover expired event.
func (r *Registry) EmitRolloverExpired(ctx context.Context, rollover interface{}) {
	r.mu.RLock()
	plugins := r.onRolloverExpired
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRolloverExpired(ctx, rollover)
		}); err != nil {
			r.logger.Warn("plugin OnRolloverExpired failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitDiscrepancyFound emits an audit discrepancy event.
func (r *Registry) EmitDiscrepancyFound(ctx context.Context, discrepancy interface{}) {
	r.mu.RLock()
	plugins := r.onDiscrepancyFound
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnDiscrepancyFound(ctx, discrepancy)
		}); err != nil {
			r.logger.Warn("plugin OnDiscrepancyFound failed", "plugin", p.Name(), "error", err)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins must never block the posting path.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
