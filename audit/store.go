package audit

import (
	"context"

	"github.com/xraph/credits/id"
)

// Store is the per-aggregate view of audit report persistence.
type Store interface {
	SaveReport(ctx context.Context, r *Report) error
	GetReport(ctx context.Context, runID id.AuditRunID) (*Report, error)
	ListReports(ctx context.Context, opts ListOpts) ([]*Report, error)
}

// ListOpts filters report listings.
type ListOpts struct {
	// OnlyDirty limits results to reports with at least one discrepancy.
	OnlyDirty bool
	Limit     int
	Offset    int
}
