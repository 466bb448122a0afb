// Package rollover tracks unused lead/email credit carried between billing
// periods, with a bounded three-period lifetime.
package rollover

import (
	"github.com/xraph/credits/allocation"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Status of a rollover row.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Rollover records unused credit of one type carried out of one allocation.
//
// Invariant: AmountUsed + AmountExpired <= AmountRolled. Once the validity
// window closes, the remainder moves to AmountExpired exactly once, guarded
// by the Status flag.
type Rollover struct {
	types.Entity
	ID           id.RolloverID     `json:"id"`
	TenantID     string            `json:"tenant_id"`
	SourcePeriod allocation.Period `json:"source_period"`
	Type         types.CreditType  `json:"type"`

	AmountRolled  int64 `json:"amount_rolled"`
	AmountUsed    int64 `json:"amount_used"`
	AmountExpired int64 `json:"amount_expired"`

	// ValidThrough is the last billing period in which the rolled credit may
	// still be spent: source period + 3. The remainder expires on the first
	// scheduler run for a later period.
	ValidThrough allocation.Period `json:"valid_through"`
	Status       Status            `json:"status"`
}

// Remaining returns the rolled credit not yet used or expired.
func (r *Rollover) Remaining() int64 {
	return r.AmountRolled - r.AmountUsed - r.AmountExpired
}

// ExpiredBy reports whether the rollover's window is closed as of a
// scheduler run for the given period.
func (r *Rollover) ExpiredBy(period allocation.Period) bool {
	return period.After(r.ValidThrough)
}
