package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/session"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// Reserve holds back estimated capacity for a multi-step operation. The hold
// reduces available balance immediately but posts nothing to the ledger.
//
// It fails with ErrInsufficientCredits if any credit type in the estimate
// does not fit within available balance. Overdraft capacity is consumable by
// holds, the same as by posted usage.
func (e *Engine) Reserve(ctx context.Context, tenantID, operationType string, estimate types.Amount, ttl time.Duration) (*session.Session, error) {
	if tenantID == "" {
		return nil, ValidationError{Field: "tenant_id", Message: "required"}
	}
	if operationType == "" {
		return nil, ValidationError{Field: "operation_type", Message: "required"}
	}
	if estimate.IsZero() || estimate.AnyNegative() {
		return nil, ErrInvalidAmount
	}
	for _, ct := range estimate.Types() {
		if !ct.Valid() {
			return nil, ErrInvalidCreditType
		}
	}
	if ttl <= 0 {
		ttl = e.defaultSessionTTL
	}

	if !e.allowSpend(tenantID) {
		return nil, ErrCircuitOpen
	}

	unlock := e.lockTenant(tenantID)
	defer unlock()

	for _, ct := range estimate.Types() {
		if err := e.checkSpendable(ctx, tenantID, ct, estimate.Get(ct)); err != nil {
			return nil, err
		}
	}

	s := &session.Session{
		Entity:        types.NewEntity(),
		ID:            id.NewSessionID(),
		TenantID:      tenantID,
		OperationType: operationType,
		EstimatedCost: estimate.Clone(),
		Status:        session.StatusReserved,
		ExpiresAt:     e.now().Add(ttl),
	}

	if err := e.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}

	e.plugins.EmitSessionReserved(ctx, s)
	e.logger.Debug("session reserved",
		"tenant", tenantID, "session", s.ID, "op", operationType, "estimate", estimate.String())

	return s, nil
}

// Commit settles a reserved session: posts one usage transaction per credit
// type in actual, releases the hold, and transitions the session to
// committed. Each transaction is idempotent on a key derived from the
// session id, so a retried commit that crashed partway resumes cleanly.
//
// If actual exceeds the estimate for a type, the excess is checked against
// available balance excluding this session's own hold.
func (e *Engine) Commit(ctx context.Context, sessionID id.SessionID, actual types.Amount) ([]*transaction.Transaction, error) {
	if actual.AnyNegative() {
		return nil, ErrInvalidAmount
	}

	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	unlock := e.lockTenant(s.TenantID)
	defer unlock()

	s, err = e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		return nil, fmt.Errorf("%w: session %s is %s", ErrAlreadyTerminal, sessionID, s.Status)
	}

	for _, ct := range actual.Types() {
		if !ct.Valid() {
			return nil, ErrInvalidCreditType
		}
		excess := actual.Get(ct) - s.EstimatedCost.Get(ct)
		if excess <= 0 {
			continue
		}
		// The session's own hold is released by this commit, so the excess
		// only has to fit in what remains after adding the hold back.
		available, err := e.availableLocked(ctx, s.TenantID, ct)
		if err != nil {
			return nil, err
		}
		available += s.EstimatedCost.Get(ct)

		floor := int64(0)
		if sub, err := e.store.GetTenantSubscription(ctx, s.TenantID); err == nil {
			floor = sub.OverdraftFloor(ct)
		}
		if available-actual.Get(ct) < floor {
			return nil, fmt.Errorf("%w: actual %s cost %d exceeds available %d",
				ErrInsufficientCredits, ct, actual.Get(ct), available)
		}
	}

	txns := make([]*transaction.Transaction, 0, len(actual.Types()))
	for _, ct := range actual.Types() {
		n := actual.Get(ct)
		if n == 0 {
			continue
		}
		txn, err := e.postLocked(ctx, PostRequest{
			TenantID:       s.TenantID,
			Type:           ct,
			Amount:         -n,
			Kind:           transaction.KindUsage,
			IdempotencyKey: sessionID.String() + ":" + string(ct),
			Reference:      s.OperationType,
			Detail: transaction.SettlementDetail{
				SessionID:     sessionID.String(),
				OperationType: s.OperationType,
			},
			settled: true,
		})
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}

	if err := e.store.TransitionSession(ctx, sessionID, session.StatusReserved, session.StatusCommitted, actual.Clone()); err != nil {
		return nil, err
	}

	s.Status = session.StatusCommitted
	s.ActualCost = actual.Clone()
	e.plugins.EmitSessionCommitted(ctx, s, txns)
	e.logger.Debug("session committed",
		"tenant", s.TenantID, "session", sessionID, "actual", actual.String(), "transactions", len(txns))

	return txns, nil
}

// Rollback releases a reserved session's hold without posting anything.
func (e *Engine) Rollback(ctx context.Context, sessionID id.SessionID) error {
	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	unlock := e.lockTenant(s.TenantID)
	defer unlock()

	if err := e.store.TransitionSession(ctx, sessionID, session.StatusReserved, session.StatusRolledBack, nil); err != nil {
		return err
	}

	s.Status = session.StatusRolledBack
	e.plugins.EmitSessionRolledBack(ctx, s)
	e.logger.Debug("session rolled back", "tenant", s.TenantID, "session", sessionID)
	return nil
}

// GetSession retrieves a session by ID.
func (e *Engine) GetSession(ctx context.Context, sessionID id.SessionID) (*session.Session, error) {
	return e.store.GetSession(ctx, sessionID)
}

// ListSessions lists a tenant's sessions.
func (e *Engine) ListSessions(ctx context.Context, tenantID string, opts session.ListOpts) ([]*session.Session, error) {
	return e.store.ListSessions(ctx, tenantID, opts)
}

const sweepBatchSize = 100

// SweepExpired expires every session whose TTL has elapsed and is still
// reserved. Losing a race with a caller's own commit or rollback is a no-op,
// never an error. It returns the number of sessions expired.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	expired, err := e.store.ListExpiredSessions(ctx, e.now(), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, s := range expired {
		if err := e.expireSession(ctx, s); err != nil {
			if IsConflict(err) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

func (e *Engine) expireSession(ctx context.Context, s *session.Session) error {
	unlock := e.lockTenant(s.TenantID)
	defer unlock()

	if err := e.store.TransitionSession(ctx, s.ID, session.StatusReserved, session.StatusExpired, nil); err != nil {
		return err
	}

	s.Status = session.StatusExpired
	e.plugins.EmitSessionExpired(ctx, s)
	e.logger.Info("session expired by sweep",
		"tenant", s.TenantID, "session", s.ID, "op", s.OperationType, "estimate", s.EstimatedCost.String())
	return nil
}

// sweepWorker runs the expiry sweep on a fixed interval.
func (e *Engine) sweepWorker() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			if _, err := e.SweepExpired(context.Background()); err != nil {
				e.logger.Error("expiry sweep failed", "error", err)
			}
		}
	}
}
