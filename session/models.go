// Package session defines the short-lived credit reservation session.
//
// A session holds back estimated capacity for a multi-step operation before
// any ledger transaction exists. It resolves exactly once: commit, rollback,
// or expiry.
package session

import (
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Status of a reservation session.
type Status string

const (
	StatusReserved   Status = "reserved"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
	StatusExpired    Status = "expired"
)

// Terminal reports whether s is a final state. There is no transition out
// of a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusRolledBack || s == StatusExpired
}

// Session is a temporary hold on available balance.
//
// While Status is reserved, EstimatedCost is subtracted from the tenant's
// available balance without appearing in the ledger.
type Session struct {
	types.Entity
	ID            id.SessionID `json:"id"`
	TenantID      string       `json:"tenant_id"`
	OperationType string       `json:"operation_type"`
	EstimatedCost types.Amount `json:"estimated_cost"`
	ActualCost    types.Amount `json:"actual_cost,omitempty"` // filled on commit
	Status        Status       `json:"status"`
	ExpiresAt     time.Time    `json:"expires_at"`
}

// ListOpts filters session listings.
type ListOpts struct {
	Status        Status
	OperationType string
	Limit         int
	Offset        int
}
