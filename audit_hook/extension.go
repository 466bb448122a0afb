// Package audithook bridges credit engine lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not depend on a
// concrete audit trail. Callers inject a RecorderFunc adapter that bridges
// to their backend at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/credits/audit"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/session"
	"github.com/xraph/credits/transaction"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnTransactionPosted   = (*Extension)(nil)
	_ plugin.OnTransactionReversed = (*Extension)(nil)
	_ plugin.OnSessionReserved     = (*Extension)(nil)
	_ plugin.OnSessionCommitted    = (*Extension)(nil)
	_ plugin.OnSessionRolledBack   = (*Extension)(nil)
	_ plugin.OnSessionExpired      = (*Extension)(nil)
	_ plugin.OnAllocationCreated   = (*Extension)(nil)
	_ plugin.OnRolloverCreated     = (*Extension)(nil)
	_ plugin.OnRolloverExpired     = (*Extension)(nil)
	_ plugin.OnDiscrepancyFound    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges credit engine lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionPosted implements plugin.OnTransactionPosted.
func (e *Extension) OnTransactionPosted(ctx context.Context, v interface{}) error {
	txn, ok := v.(*transaction.Transaction)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionTransactionPosted, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, txn.ID.String(), CategoryLedger, nil,
		"tenant_id", txn.TenantID,
		"type", string(txn.Type),
		"kind", string(txn.Kind),
		"net", txn.NetAmount(),
		"balance_after", txn.BalanceAfter,
	)
}

// OnTransactionReversed implements plugin.OnTransactionReversed.
func (e *Extension) OnTransactionReversed(ctx context.Context, parentV, reversalV interface{}) error {
	parent, ok1 := parentV.(*transaction.Transaction)
	reversal, ok2 := reversalV.(*transaction.Transaction)
	if !ok1 || !ok2 {
		return nil
	}
	return e.record(ctx, ActionTransactionReversed, SeverityWarning, OutcomeSuccess,
		ResourceTransaction, parent.ID.String(), CategoryLedger, nil,
		"tenant_id", parent.TenantID,
		"reversal_id", reversal.ID.String(),
		"net", reversal.NetAmount(),
	)
}

// ──────────────────────────────────────────────────
// Session hooks
// ──────────────────────────────────────────────────

// OnSessionReserved implements plugin.OnSessionReserved.
func (e *Extension) OnSessionReserved(ctx context.Context, v interface{}) error {
	s, ok := v.(*session.Session)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionSessionReserved, SeverityInfo, OutcomeSuccess,
		ResourceSession, s.ID.String(), CategoryReservation, nil,
		"tenant_id", s.TenantID,
		"operation_type", s.OperationType,
		"estimate", s.EstimatedCost.String(),
	)
}

// OnSessionCommitted implements plugin.OnSessionCommitted.
func (e *Extension) OnSessionCommitted(ctx context.Context, v, _ interface{}) error {
	s, ok := v.(*session.Session)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionSessionCommitted, SeverityInfo, OutcomeSuccess,
		ResourceSession, s.ID.String(), CategoryReservation, nil,
		"tenant_id", s.TenantID,
		"actual", s.ActualCost.String(),
	)
}

// OnSessionRolledBack implements plugin.OnSessionRolledBack.
func (e *Extension) OnSessionRolledBack(ctx context.Context, v interface{}) error {
	s, ok := v.(*session.Session)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionSessionRolledBack, SeverityInfo, OutcomeSuccess,
		ResourceSession, s.ID.String(), CategoryReservation, nil,
		"tenant_id", s.TenantID,
	)
}

// OnSessionExpired implements plugin.OnSessionExpired.
func (e *Extension) OnSessionExpired(ctx context.Context, v interface{}) error {
	s, ok := v.(*session.Session)
	if !ok {
		return nil
	}
	// An expired session means a caller abandoned a reservation.
	return e.record(ctx, ActionSessionExpired, SeverityWarning, OutcomePartial,
		ResourceSession, s.ID.String(), CategoryReservation, nil,
		"tenant_id", s.TenantID,
		"operation_type", s.OperationType,
		"estimate", s.EstimatedCost.String(),
	)
}

// ──────────────────────────────────────────────────
// Billing period hooks
// ──────────────────────────────────────────────────

// OnAllocationCreated implements plugin.OnAllocationCreated.
func (e *Extension) OnAllocationCreated(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionAllocationCreated, SeverityInfo, OutcomeSuccess,
		ResourceAllocation, "", CategoryBilling, nil,
		"event", "allocation_created",
	)
}

// OnRolloverCreated implements plugin.OnRolloverCreated.
func (e *Extension) OnRolloverCreated(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionRolloverCreated, SeverityInfo, OutcomeSuccess,
		ResourceRollover, "", CategoryBilling, nil,
		"event", "rollover_created",
	)
}

// OnRolloverExpired implements plugin.OnRolloverExpired.
func (e *Extension) OnRolloverExpired(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionRolloverExpired, SeverityInfo, OutcomeSuccess,
		ResourceRollover, "", CategoryBilling, nil,
		"event", "rollover_expired",
	)
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnDiscrepancyFound implements plugin.OnDiscrepancyFound.
func (e *Extension) OnDiscrepancyFound(ctx context.Context, v interface{}) error {
	d, ok := v.(audit.Discrepancy)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionDiscrepancyFound, SeverityCritical, OutcomeFailure,
		ResourceBalance, "", CategoryReconciliation, nil,
		"tenant_id", d.TenantID,
		"type", string(d.Type),
		"severity", string(d.Severity),
		"cached", d.Cached,
		"computed", d.Computed,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
