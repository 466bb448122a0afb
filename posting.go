package credits

import (
	"context"
	"fmt"

	"github.com/xraph/credits/allocation"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// PostRequest describes one ledger transaction to append.
type PostRequest struct {
	TenantID string
	Type     types.CreditType
	// Amount is the signed net effect on the balance. Its sign must match
	// the kind: positive for purchase/bonus/refund, negative for usage.
	Amount         int64
	Kind           transaction.Kind
	IdempotencyKey string
	Reference      string
	Detail         transaction.Detail

	// settled marks a post whose capacity was already held by a reservation,
	// so the availability check is skipped. Only the commit path sets it.
	settled bool
}

// Balance is a point-in-time view of one (tenant, type) balance.
type Balance struct {
	Current int64 `json:"current"`
	// Available is Current minus the estimated cost of every session
	// currently holding capacity.
	Available int64 `json:"available"`
}

// Post appends a transaction to the ledger and returns the stored row,
// including its assigned sequence number and balance-after.
//
// Posting is idempotent on the caller-supplied key: a retried Post returns
// the previously stored transaction without appending a second row.
func (e *Engine) Post(ctx context.Context, req PostRequest) (*transaction.Transaction, error) {
	if err := validatePost(req); err != nil {
		return nil, err
	}

	unlock := e.lockTenant(req.TenantID)
	defer unlock()

	return e.postLocked(ctx, req)
}

// postLocked appends one transaction. Callers must hold the tenant lock.
func (e *Engine) postLocked(ctx context.Context, req PostRequest) (*transaction.Transaction, error) {
	if prior, err := e.store.GetTransactionByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return prior, nil
	}

	if req.Kind == transaction.KindUsage && !req.settled {
		if !e.allowSpend(req.TenantID) {
			return nil, ErrCircuitOpen
		}
		if err := e.checkSpendable(ctx, req.TenantID, req.Type, -req.Amount); err != nil {
			return nil, err
		}
	}

	txn := &transaction.Transaction{
		Entity:         types.NewEntity(),
		ID:             id.NewTransactionID(),
		TenantID:       req.TenantID,
		Type:           req.Type,
		Kind:           req.Kind,
		Status:         transaction.StatusCompleted,
		IdempotencyKey: req.IdempotencyKey,
		Reference:      req.Reference,
		Detail:         req.Detail,
	}
	if req.Amount >= 0 {
		txn.CreditAmount = req.Amount
	} else {
		txn.DebitAmount = -req.Amount
	}

	if err := e.store.AppendTransaction(ctx, txn); err != nil {
		return nil, err
	}

	if req.Kind == transaction.KindUsage {
		e.attributeUsage(ctx, req.TenantID, req.Type, -req.Amount)
	}

	e.plugins.EmitTransactionPosted(ctx, txn)
	e.logger.Debug("transaction posted",
		"tenant", req.TenantID,
		"type", req.Type,
		"kind", req.Kind,
		"net", txn.NetAmount(),
		"balance_after", txn.BalanceAfter,
	)

	return txn, nil
}

// checkSpendable verifies that spending cost credits of one type keeps the
// available balance at or above the tenant's overdraft floor. Holds consume
// overdraft capacity the same way posted usage does.
func (e *Engine) checkSpendable(ctx context.Context, tenantID string, ct types.CreditType, cost int64) error {
	available, err := e.availableLocked(ctx, tenantID, ct)
	if err != nil {
		return err
	}

	floor := int64(0)
	if sub, err := e.store.GetTenantSubscription(ctx, tenantID); err == nil {
		floor = sub.OverdraftFloor(ct)
	}

	if available-cost < floor {
		return fmt.Errorf("%w: %s needs %d, available %d (floor %d)",
			ErrInsufficientCredits, ct, cost, available, floor)
	}
	return nil
}

// availableLocked returns current balance minus reserved holds. Callers must
// hold the tenant lock so the read pairs atomically with a following append.
func (e *Engine) availableLocked(ctx context.Context, tenantID string, ct types.CreditType) (int64, error) {
	current, err := e.store.GetCachedBalance(ctx, tenantID, ct)
	if err != nil {
		return 0, err
	}
	reserved, err := e.store.SumReserved(ctx, tenantID, ct)
	if err != nil {
		return 0, err
	}
	return current - reserved, nil
}

// attributeUsage increments the used counter on the tenant's current
// allocation. Usage before the first allocation exists is still a valid
// ledger post, so a missing allocation is not an error.
func (e *Engine) attributeUsage(ctx context.Context, tenantID string, ct types.CreditType, used int64) {
	period := allocation.PeriodOf(e.now())
	if err := e.store.IncrementAllocationUsed(ctx, tenantID, period, ct, used); err != nil && !IsNotFound(err) {
		e.logger.Warn("failed to attribute usage to allocation",
			"tenant", tenantID, "period", period, "error", err)
	}
}

// Reverse undoes a posted transaction by appending a new row with the
// opposite sign and ParentID set. Reversing an already-reversed transaction,
// or a reversal itself, fails with ErrNotReversible. Retried calls replay
// the stored reversal.
func (e *Engine) Reverse(ctx context.Context, txnID id.TransactionID, reason string) (*transaction.Transaction, error) {
	parent, err := e.store.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}

	unlock := e.lockTenant(parent.TenantID)
	defer unlock()

	key := "rev:" + txnID.String()
	if prior, err := e.store.GetTransactionByIdempotencyKey(ctx, key); err == nil {
		return prior, nil
	}

	if parent.IsReversal() {
		return nil, fmt.Errorf("%w: cannot reverse a reversal", ErrNotReversible)
	}
	if parent.Status == transaction.StatusReversed {
		return nil, fmt.Errorf("%w: transaction %s already reversed", ErrNotReversible, txnID)
	}

	rev := &transaction.Transaction{
		Entity:         types.NewEntity(),
		ID:             id.NewTransactionID(),
		TenantID:       parent.TenantID,
		Type:           parent.Type,
		Kind:           transaction.KindReversal,
		DebitAmount:    parent.CreditAmount,
		CreditAmount:   parent.DebitAmount,
		Status:         transaction.StatusCompleted,
		IdempotencyKey: key,
		Reference:      parent.Reference,
		ParentID:       parent.ID,
		Detail:         transaction.ReversalDetail{Reason: reason},
	}

	if err := e.store.AppendTransaction(ctx, rev); err != nil {
		return nil, err
	}

	e.plugins.EmitTransactionReversed(ctx, parent, rev)
	e.logger.Info("transaction reversed",
		"tenant", parent.TenantID, "parent", parent.ID, "reversal", rev.ID, "reason", reason)

	return rev, nil
}

// Balance returns the current and available balance for one (tenant, type).
func (e *Engine) Balance(ctx context.Context, tenantID string, ct types.CreditType) (*Balance, error) {
	if !ct.Valid() {
		return nil, ErrInvalidCreditType
	}

	unlock := e.lockTenant(tenantID)
	defer unlock()

	current, err := e.store.GetCachedBalance(ctx, tenantID, ct)
	if err != nil {
		return nil, err
	}
	reserved, err := e.store.SumReserved(ctx, tenantID, ct)
	if err != nil {
		return nil, err
	}
	return &Balance{Current: current, Available: current - reserved}, nil
}

// Recompute replays the full transaction history for one (tenant, type) and
// returns the independently derived balance. Used by the audit job; it never
// writes.
func (e *Engine) Recompute(ctx context.Context, tenantID string, ct types.CreditType) (int64, error) {
	return e.store.SumTransactions(ctx, tenantID, ct)
}

// GetTransaction retrieves a transaction by ID.
func (e *Engine) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	return e.store.GetTransaction(ctx, txnID)
}

// ListTransactions lists a tenant's transactions.
func (e *Engine) ListTransactions(ctx context.Context, tenantID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	return e.store.ListTransactions(ctx, tenantID, opts)
}

func validatePost(req PostRequest) error {
	if req.TenantID == "" {
		return ValidationError{Field: "tenant_id", Message: "required"}
	}
	if !req.Type.Valid() {
		return ErrInvalidCreditType
	}
	if !req.Kind.Valid() || req.Kind == transaction.KindReversal {
		return ValidationError{Field: "kind", Message: "unknown or reserved kind"}
	}
	if req.IdempotencyKey == "" {
		return ValidationError{Field: "idempotency_key", Message: "required"}
	}
	if req.Amount == 0 {
		return ErrInvalidAmount
	}
	if d := req.Kind.Direction(); d > 0 && req.Amount < 0 || d < 0 && req.Amount > 0 {
		return fmt.Errorf("%w: %s requires net sign %+d", ErrInvalidAmount, req.Kind, req.Kind.Direction())
	}
	return nil
}
