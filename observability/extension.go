// Package observability provides a metrics extension for the credit engine
// that records lifecycle event counts via a pluggable MetricFactory, plus a
// Prometheus-backed factory implementation.
package observability

import (
	"context"

	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/session"
	"github.com/xraph/credits/transaction"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnTransactionPosted   = (*MetricsExtension)(nil)
	_ plugin.OnTransactionReversed = (*MetricsExtension)(nil)
	_ plugin.OnSessionReserved     = (*MetricsExtension)(nil)
	_ plugin.OnSessionCommitted    = (*MetricsExtension)(nil)
	_ plugin.OnSessionRolledBack   = (*MetricsExtension)(nil)
	_ plugin.OnSessionExpired      = (*MetricsExtension)(nil)
	_ plugin.OnAllocationCreated   = (*MetricsExtension)(nil)
	_ plugin.OnRolloverCreated     = (*MetricsExtension)(nil)
	_ plugin.OnRolloverExpired     = (*MetricsExtension)(nil)
	_ plugin.OnDiscrepancyFound    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as an engine plugin to automatically track credit metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Ledger metrics
	TransactionsPosted   Counter
	TransactionsReversed Counter
	UsagePosted          Counter
	CreditsSpent         Histogram
	CreditsGranted       Histogram

	// Session metrics
	SessionsReserved   Counter
	SessionsCommitted  Counter
	SessionsRolledBack Counter
	SessionsExpired    Counter
	HoldSize           Histogram

	// Billing period metrics
	AllocationsCreated Counter
	RolloversCreated   Counter
	RolloversExpired   Counter

	// Audit metrics
	DiscrepanciesFound Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Ledger metrics
		TransactionsPosted:   factory.Counter("credits.transactions.posted"),
		TransactionsReversed: factory.Counter("credits.transactions.reversed"),
		UsagePosted:          factory.Counter("credits.transactions.usage"),
		CreditsSpent:         factory.Histogram("credits.spent"),
		CreditsGranted:       factory.Histogram("credits.granted"),

		// Session metrics
		SessionsReserved:   factory.Counter("credits.sessions.reserved"),
		SessionsCommitted:  factory.Counter("credits.sessions.committed"),
		SessionsRolledBack: factory.Counter("credits.sessions.rolled_back"),
		SessionsExpired:    factory.Counter("credits.sessions.expired"),
		HoldSize:           factory.Histogram("credits.sessions.hold_size"),

		// Billing period metrics
		AllocationsCreated: factory.Counter("credits.allocations.created"),
		RolloversCreated:   factory.Counter("credits.rollovers.created"),
		RolloversExpired:   factory.Counter("credits.rollovers.expired"),

		// Audit metrics
		DiscrepanciesFound: factory.Counter("credits.audit.discrepancies"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionPosted implements plugin.OnTransactionPosted.
func (m *MetricsExtension) OnTransactionPosted(_ context.Context, v interface{}) error {
	m.TransactionsPosted.Inc()
	if txn, ok := v.(*transaction.Transaction); ok {
		switch {
		case txn.Kind == transaction.KindUsage:
			m.UsagePosted.Inc()
			m.CreditsSpent.Observe(float64(txn.DebitAmount))
		case txn.NetAmount() > 0:
			m.CreditsGranted.Observe(float64(txn.NetAmount()))
		}
	}
	return nil
}

// OnTransactionReversed implements plugin.OnTransactionReversed.
func (m *MetricsExtension) OnTransactionReversed(_ context.Context, _, _ interface{}) error {
	m.TransactionsReversed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Session hooks
// ──────────────────────────────────────────────────

// OnSessionReserved implements plugin.OnSessionReserved.
func (m *MetricsExtension) OnSessionReserved(_ context.Context, v interface{}) error {
	m.SessionsReserved.Inc()
	if s, ok := v.(*session.Session); ok {
		m.HoldSize.Observe(float64(s.EstimatedCost.Total()))
	}
	return nil
}

// OnSessionCommitted implements plugin.OnSessionCommitted.
func (m *MetricsExtension) OnSessionCommitted(_ context.Context, _, _ interface{}) error {
	m.SessionsCommitted.Inc()
	return nil
}

// OnSessionRolledBack implements plugin.OnSessionRolledBack.
func (m *MetricsExtension) OnSessionRolledBack(_ context.Context, _ interface{}) error {
	m.SessionsRolledBack.Inc()
	return nil
}

// OnSessionExpired implements plugin.OnSessionExpired.
func (m *MetricsExtension) OnSessionExpired(_ context.Context, _ interface{}) error {
	m.SessionsExpired.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Billing period hooks
// ──────────────────────────────────────────────────

// OnAllocationCreated implements plugin.OnAllocationCreated.
func (m *MetricsExtension) OnAllocationCreated(_ context.Context, _ interface{}) error {
	m.AllocationsCreated.Inc()
	return nil
}

// OnRolloverCreated implements plugin.OnRolloverCreated.
func (m *MetricsExtension) OnRolloverCreated(_ context.Context, _ interface{}) error {
	m.RolloversCreated.Inc()
	return nil
}

// OnRolloverExpired implements plugin.OnRolloverExpired.
func (m *MetricsExtension) OnRolloverExpired(_ context.Context, _ interface{}) error {
	m.RolloversExpired.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Audit hooks
// ──────────────────────────────────────────────────

// OnDiscrepancyFound implements plugin.OnDiscrepancyFound.
func (m *MetricsExtension) OnDiscrepancyFound(_ context.Context, _ interface{}) error {
	m.DiscrepanciesFound.Inc()
	return nil
}
