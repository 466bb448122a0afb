// Package transaction defines the immutable ledger transaction model.
//
// Transactions are append-only: they are created once, never mutated and
// never deleted. Undoing a posted transaction means posting a reversal row
// that points back at its parent.
package transaction

import (
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Kind is the business reason for a credit transaction.
type Kind string

const (
	KindPurchase   Kind = "purchase"
	KindUsage      Kind = "usage"
	KindRefund     Kind = "refund"
	KindBonus      Kind = "bonus"
	KindAdjustment Kind = "adjustment"
	KindReversal   Kind = "reversal"
)

// Direction returns the required sign of the net amount for this kind:
// +1 for credit kinds, -1 for debit kinds, 0 when either sign is allowed.
func (k Kind) Direction() int {
	switch k {
	case KindPurchase, KindBonus, KindRefund:
		return 1
	case KindUsage:
		return -1
	default:
		return 0
	}
}

// Valid reports whether k is a known transaction kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPurchase, KindUsage, KindRefund, KindBonus, KindAdjustment, KindReversal:
		return true
	}
	return false
}

// Status of a ledger transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusReversed  Status = "reversed"
)

// Transaction is a single signed row in the append-only credit ledger.
//
// For a fixed (tenant, credit type), transactions ordered by Sequence form a
// running sum whose last BalanceAfter equals the tenant's current balance.
type Transaction struct {
	types.Entity
	ID             id.TransactionID `json:"id"`
	TenantID       string           `json:"tenant_id"`
	Type           types.CreditType `json:"type"`
	Kind           Kind             `json:"kind"`
	DebitAmount    int64            `json:"debit_amount"`  // >= 0
	CreditAmount   int64            `json:"credit_amount"` // >= 0
	BalanceAfter   int64            `json:"balance_after"`
	Sequence       uint64           `json:"sequence"`
	Status         Status           `json:"status"`
	IdempotencyKey string           `json:"idempotency_key"`
	Reference      string           `json:"reference,omitempty"`
	// ParentID is set only on reversals and points at the transaction being
	// reversed. The forward direction (original -> reversal) is resolved via
	// a store index, never a second pointer.
	ParentID id.TransactionID `json:"parent_id,omitempty"`
	Detail   Detail           `json:"detail,omitempty"`
}

// NetAmount is the signed effect of the transaction on the balance.
func (t *Transaction) NetAmount() int64 {
	return t.CreditAmount - t.DebitAmount
}

// IsReversal reports whether this transaction undoes another one.
func (t *Transaction) IsReversal() bool {
	return !t.ParentID.IsNil()
}

// ListOpts filters transaction listings.
type ListOpts struct {
	Type   types.CreditType
	Kind   Kind
	Status Status
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}
