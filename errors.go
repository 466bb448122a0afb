package credits

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("credits: not found")
	ErrAlreadyExists = errors.New("credits: already exists")
	ErrInvalidInput  = errors.New("credits: invalid input")

	// Posting errors
	ErrInsufficientCredits     = errors.New("credits: insufficient credits")
	ErrInvalidAmount           = errors.New("credits: amount must be positive")
	ErrInvalidCreditType       = errors.New("credits: unknown credit type")
	ErrDuplicateIdempotencyKey = errors.New("credits: idempotency key already used")
	ErrTransactionNotFound     = errors.New("credits: transaction not found")
	ErrNotReversible           = errors.New("credits: transaction cannot be reversed")
	ErrAlreadyReversed         = errors.New("credits: transaction already reversed")

	// Session errors
	ErrSessionNotFound  = errors.New("credits: session not found")
	ErrAlreadyTerminal  = errors.New("credits: session already in a terminal state")
	ErrSessionExpired   = errors.New("credits: session expired")
	ErrEstimateExceeded = errors.New("credits: actual cost exceeds available balance")

	// Allocation and rollover errors
	ErrAllocationExists   = errors.New("credits: allocation already exists for period")
	ErrAllocationNotFound = errors.New("credits: allocation not found")
	ErrRolloverNotFound   = errors.New("credits: rollover not found")
	ErrRolloverNotActive  = errors.New("credits: rollover is not active")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("credits: subscription not found")
	ErrSubscriptionInactive = errors.New("credits: subscription is not active")
	ErrTierNotFound         = errors.New("credits: tier not found")
	ErrAddOnNotFound        = errors.New("credits: add-on not found")

	// Reliability errors
	ErrCircuitOpen = errors.New("credits: circuit breaker open for tenant")

	// Audit errors
	ErrAuditReportNotFound = errors.New("credits: audit report not found")

	// Store errors
	ErrStoreClosed     = errors.New("credits: store is closed")
	ErrMigrationFailed = errors.New("credits: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("credits: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrAllocationNotFound) ||
		errors.Is(err, ErrRolloverNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrTierNotFound) ||
		errors.Is(err, ErrAddOnNotFound) ||
		errors.Is(err, ErrAuditReportNotFound)
}

// IsBalanceError returns true if the error means the tenant cannot spend.
func IsBalanceError(err error) bool {
	return errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrEstimateExceeded)
}

// IsConflict returns true if the error is a lost race or duplicate write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrAlreadyTerminal) ||
		errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrAllocationExists) ||
		errors.Is(err, ErrRolloverNotActive) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || IsBalanceError(err) || IsConflict(err) || IsNotFound(err) {
		return false
	}
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidCreditType) || errors.Is(err, ErrNotReversible) {
		return false
	}
	return true
}
