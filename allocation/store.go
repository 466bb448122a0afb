package allocation

import (
	"context"

	"github.com/xraph/credits/types"
)

// Store is the per-aggregate view of allocation persistence.
type Store interface {
	// Create persists a new allocation. Fails if one already exists for
	// (tenant, period) — the scheduler relies on this for idempotency.
	Create(ctx context.Context, a *MonthlyAllocation) error

	Get(ctx context.Context, tenantID string, period Period) (*MonthlyAllocation, error)

	// IncrementUsed adds n to the used counter for one credit type as a
	// usage transaction posts against the period.
	IncrementUsed(ctx context.Context, tenantID string, period Period, ct types.CreditType, n int64) error

	List(ctx context.Context, tenantID string, opts ListOpts) ([]*MonthlyAllocation, error)
}
