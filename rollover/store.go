package rollover

import (
	"context"

	"github.com/xraph/credits/allocation"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Store is the per-aggregate view of rollover persistence.
type Store interface {
	Create(ctx context.Context, r *Rollover) error

	Get(ctx context.Context, rolloverID id.RolloverID) (*Rollover, error)

	// ListActive returns a tenant's active rollovers ordered by source
	// period, oldest first. The close-of-period attribution consumes from
	// the oldest rollover before newer ones.
	ListActive(ctx context.Context, tenantID string) ([]*Rollover, error)

	// AddUsage adds n to the rollover's used counter. Callers must not push
	// used past the rolled amount.
	AddUsage(ctx context.Context, rolloverID id.RolloverID, n int64) error

	// MarkExpired moves the remainder to the expired counter and flips the
	// status, with compare-and-set semantics on the active status so the
	// expiry posts exactly once even if two scheduler runs race.
	MarkExpired(ctx context.Context, rolloverID id.RolloverID) (*Rollover, error)

	List(ctx context.Context, tenantID string, opts ListOpts) ([]*Rollover, error)
}

// ListOpts filters rollover listings.
type ListOpts struct {
	Status       Status
	Type         types.CreditType
	SourcePeriod allocation.Period
	Limit        int
	Offset       int
}
