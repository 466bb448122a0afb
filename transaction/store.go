package transaction

import (
	"context"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Store is the per-aggregate view of transaction persistence.
type Store interface {
	// Append persists a new transaction, assigns its system-wide Sequence,
	// and updates the cached (tenant, type) balance to BalanceAfter in the
	// same unit of work.
	Append(ctx context.Context, t *Transaction) error

	Get(ctx context.Context, txnID id.TransactionID) (*Transaction, error)

	// GetByIdempotencyKey resolves a previously posted transaction by its
	// caller-supplied idempotency key.
	GetByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)

	// GetReversal resolves the reversal pointing at parentID, if any.
	GetReversal(ctx context.Context, parentID id.TransactionID) (*Transaction, error)

	List(ctx context.Context, tenantID string, opts ListOpts) ([]*Transaction, error)

	// SumNet replays the full history for (tenant, type) and returns the
	// independently derived balance. Used by the audit job.
	SumNet(ctx context.Context, tenantID string, ct types.CreditType) (int64, error)
}
