package audithook

// Action constants for audit events.
const (
	// Ledger actions
	ActionTransactionPosted   = "transaction.posted"
	ActionTransactionReversed = "transaction.reversed"

	// Session actions
	ActionSessionReserved   = "session.reserved"
	ActionSessionCommitted  = "session.committed"
	ActionSessionRolledBack = "session.rolled_back"
	ActionSessionExpired    = "session.expired"

	// Billing period actions
	ActionAllocationCreated = "allocation.created"
	ActionRolloverCreated   = "rollover.created"
	ActionRolloverExpired   = "rollover.expired"

	// Reconciliation actions
	ActionDiscrepancyFound = "audit.discrepancy"
)

// Resource constants for audit events.
const (
	ResourceTransaction = "transaction"
	ResourceSession     = "session"
	ResourceAllocation  = "allocation"
	ResourceRollover    = "rollover"
	ResourceBalance     = "balance"
)

// Category constants for audit events.
const (
	CategoryLedger         = "ledger"
	CategoryReservation    = "reservation"
	CategoryBilling        = "billing"
	CategoryReconciliation = "reconciliation"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
