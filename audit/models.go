// Package audit defines the reconciliation report produced by the periodic
// consistency check of cached balances against the ledger.
package audit

import (
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Severity classifies a discrepancy.
type Severity string

const (
	// SeverityDrift is a cached balance that differs from the ledger sum.
	SeverityDrift Severity = "drift"
	// SeverityStuck is a reserved session well past its expiry that the
	// sweeper has not resolved.
	SeverityStuck Severity = "stuck_session"
)

// Discrepancy is one finding from a reconciliation run.
type Discrepancy struct {
	TenantID string           `json:"tenant_id"`
	Type     types.CreditType `json:"type,omitempty"`
	Severity Severity         `json:"severity"`

	Cached   int64 `json:"cached,omitempty"`
	Computed int64 `json:"computed,omitempty"`

	SessionID id.SessionID `json:"session_id,omitempty"`
	Detail    string       `json:"detail,omitempty"`
}

// Delta returns the absolute difference between cached and computed balance.
func (d *Discrepancy) Delta() int64 {
	delta := d.Cached - d.Computed
	if delta < 0 {
		return -delta
	}
	return delta
}

// Report is the outcome of one reconciliation run.
type Report struct {
	types.Entity
	ID             id.AuditRunID `json:"id"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	TenantsScanned int           `json:"tenants_scanned"`
	Discrepancies  []Discrepancy `json:"discrepancies,omitempty"`
}

// Clean reports whether the run found no discrepancies.
func (r *Report) Clean() bool { return len(r.Discrepancies) == 0 }

// ForTenant returns the report's discrepancies for one tenant.
func (r *Report) ForTenant(tenantID string) []Discrepancy {
	var out []Discrepancy
	for _, d := range r.Discrepancies {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	return out
}
