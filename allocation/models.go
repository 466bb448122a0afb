// Package allocation defines the per-billing-period credit allocation.
//
// An allocation is a derived view over the ledger: the grant it describes is
// posted as ledger transactions, and its used counters are incremented as
// usage posts against the period. It never holds balance on its own.
package allocation

import (
	"fmt"
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Period is a billing period key in "YYYY-MM" form. Periods order
// lexicographically, matching their chronological order.
type Period string

// PeriodOf returns the billing period containing t.
func PeriodOf(t time.Time) Period {
	return Period(t.UTC().Format("2006-01"))
}

// Time returns the first instant of the period in UTC.
func (p Period) Time() (time.Time, error) {
	t, err := time.Parse("2006-01", string(p))
	if err != nil {
		return time.Time{}, fmt.Errorf("allocation: invalid period %q: %w", p, err)
	}
	return t, nil
}

// Valid reports whether p parses as a period key.
func (p Period) Valid() bool {
	_, err := p.Time()
	return err == nil
}

// Add returns the period n months after p (n may be negative).
// It panics if p is not a valid period key (programming error).
func (p Period) Add(n int) Period {
	t, err := p.Time()
	if err != nil {
		panic(err.Error())
	}
	return PeriodOf(t.AddDate(0, n, 0))
}

// Next returns the period immediately after p.
func (p Period) Next() Period { return p.Add(1) }

// Prev returns the period immediately before p.
func (p Period) Prev() Period { return p.Add(-1) }

// Before reports whether p is chronologically before other.
func (p Period) Before(other Period) bool { return p < other }

// After reports whether p is chronologically after other.
func (p Period) After(other Period) bool { return p > other }

// MonthlyAllocation records the credits granted to a tenant for one billing
// period: base tier credits, add-ons, and inbound rollover.
type MonthlyAllocation struct {
	types.Entity
	ID         id.AllocationID `json:"id"`
	TenantID   string          `json:"tenant_id"`
	Period     Period          `json:"period"`
	Base       types.Amount    `json:"base"`
	AddOn      types.Amount    `json:"addon"`
	RolloverIn types.Amount    `json:"rollover_in"` // lead/email only
	Used       types.Amount    `json:"used"`
}

// Total returns base + addon + rollover-in.
func (a *MonthlyAllocation) Total() types.Amount {
	return types.Sum(a.Base, a.AddOn, a.RolloverIn)
}

// Remaining returns total - used for one credit type.
func (a *MonthlyAllocation) Remaining(ct types.CreditType) int64 {
	return a.Total().Get(ct) - a.Used.Get(ct)
}

// ListOpts filters allocation listings.
type ListOpts struct {
	Since  Period
	Until  Period
	Limit  int
	Offset int
}
