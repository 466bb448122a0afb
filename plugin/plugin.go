// Package plugin provides an extensible plugin system for the credit engine.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionPosted is called after a transaction is appended to the ledger.
type OnTransactionPosted interface {
	Plugin
	OnTransactionPosted(ctx context.Context, txn interface{}) error
}

// OnTransactionReversed is called after a reversal posts against a parent
// transaction.
type OnTransactionReversed interface {
	Plugin
	OnTransactionReversed(ctx context.Context, parent, reversal interface{}) error
}

// ──────────────────────────────────────────────────
// Session hooks
// ──────────────────────────────────────────────────

// OnSessionReserved is called when a reservation session is created.
type OnSessionReserved interface {
	Plugin
	OnSessionReserved(ctx context.Context, session interface{}) error
}

// OnSessionCommitted is called when a session settles into the ledger.
type OnSessionCommitted interface {
	Plugin
	OnSessionCommitted(ctx context.Context, session interface{}, txns interface{}) error
}

// OnSessionRolledBack is called when a session releases its hold unspent.
type OnSessionRolledBack interface {
	Plugin
	OnSessionRolledBack(ctx context.Context, session interface{}) error
}

// OnSessionExpired is called when the sweep expires an abandoned session.
type OnSessionExpired interface {
	Plugin
	OnSessionExpired(ctx context.Context, session interface{}) error
}

// ──────────────────────────────────────────────────
// Billing period hooks
// ──────────────────────────────────────────────────

// OnAllocationCreated is called when the scheduler opens a new period.
type OnAllocationCreated interface {
	Plugin
	OnAllocationCreated(ctx context.Context, alloc interface{}) error
}

// OnRolloverCreated is called when unused credit rolls into a new period.
type OnRolloverCreated interface {
	Plugin
	OnRolloverCreated(ctx context.Context, rollover interface{}) error
}

// OnRolloverExpired is called when a rollover's validity window closes.
type OnRolloverExpired interface {
	Plugin
	OnRolloverExpired(ctx context.Context, rollover interface{}) error
}

// ──────────────────────────────────────────────────
// Audit hooks
// ──────────────────────────────────────────────────

// OnDiscrepancyFound is called for each finding of a reconciliation run.
type OnDiscrepancyFound interface {
	Plugin
	OnDiscrepancyFound(ctx context.Context, discrepancy interface{}) error
}
