package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/credits/allocation"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/rollover"
	"github.com/xraph/credits/tier"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// RunAllocation runs the billing-period scheduler for one tenant: closes out
// the previous period (rollover creation, rollover expiry, expiry of unused
// non-rolling credit), creates the period's MonthlyAllocation, and posts the
// granted base and add-on credits to the ledger.
//
// Idempotent per (tenant, period): if the allocation already exists the call
// returns it unchanged.
func (e *Engine) RunAllocation(ctx context.Context, tenantID string, period allocation.Period) (*allocation.MonthlyAllocation, error) {
	if !period.Valid() {
		return nil, ValidationError{Field: "period", Message: "not a YYYY-MM period key"}
	}

	unlock := e.lockTenant(tenantID)
	defer unlock()

	if existing, err := e.store.GetAllocation(ctx, tenantID, period); err == nil {
		return existing, nil
	}

	sub, err := e.store.GetTenantSubscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.Status != tier.SubscriptionActive {
		return nil, fmt.Errorf("%w: tenant %s", ErrSubscriptionInactive, tenantID)
	}

	t, err := e.store.GetTier(ctx, sub.TierID)
	if err != nil {
		return nil, err
	}
	base := t.BaseCredits.Clone()

	addOn := types.Zero()
	for _, aid := range sub.AddOnIDs {
		a, err := e.store.GetAddOn(ctx, aid)
		if err != nil {
			return nil, err
		}
		addOn = addOn.Add(types.Of(a.Type, a.Credits))
	}

	if err := e.closePeriod(ctx, sub, period); err != nil {
		return nil, err
	}

	rolloverIn, err := e.inboundRollover(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	alloc := &allocation.MonthlyAllocation{
		Entity:     types.NewEntity(),
		ID:         id.NewAllocationID(),
		TenantID:   tenantID,
		Period:     period,
		Base:       base,
		AddOn:      addOn,
		RolloverIn: rolloverIn,
		Used:       types.Zero(),
	}
	if err := e.store.CreateAllocation(ctx, alloc); err != nil {
		return nil, err
	}

	// Grant only base + add-on. Rollover units were granted in their source
	// period and are still sitting in the balance.
	granted := base.Add(addOn)
	for _, ct := range granted.Types() {
		n := granted.Get(ct)
		if n == 0 {
			continue
		}
		_, err := e.postLocked(ctx, PostRequest{
			TenantID:       tenantID,
			Type:           ct,
			Amount:         n,
			Kind:           transaction.KindBonus,
			IdempotencyKey: fmt.Sprintf("grant:%s:%s:%s", tenantID, period, ct),
			Reference:      string(period),
			Detail: transaction.GrantDetail{
				Period: string(period),
				Base:   base.Get(ct),
				AddOn:  addOn.Get(ct),
			},
		})
		if err != nil {
			return nil, err
		}
	}

	e.plugins.EmitAllocationCreated(ctx, alloc)
	e.logger.Info("allocation created",
		"tenant", tenantID, "period", period,
		"base", base.String(), "addon", addOn.String(), "rollover_in", rolloverIn.String())

	return alloc, nil
}

// RunAllocations runs the scheduler for every tenant with an active
// subscription. Per-tenant failures are collected, not fatal to the run.
func (e *Engine) RunAllocations(ctx context.Context, period allocation.Period) (int, error) {
	subs, err := e.store.ListActiveTenantSubscriptions(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	n := 0
	for _, sub := range subs {
		if _, err := e.RunAllocation(ctx, sub.TenantID, period); err != nil {
			e.logger.Error("allocation run failed",
				"tenant", sub.TenantID, "period", period, "error", err)
			errs = append(errs, fmt.Errorf("tenant %s: %w", sub.TenantID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// closePeriod settles the previous period before the new allocation opens:
//  1. attributes the previous period's usage to active rollovers, oldest
//     first, before drawing on fresh credit
//  2. expires rollovers whose validity window closed, debiting the remainder
//  3. creates a rollover for unused fresh credit of rollable types, capped
//     by the subscription's MaxRollover
//  4. debits unused fresh credit that neither rolled nor may roll
//
// Callers must hold the tenant lock.
func (e *Engine) closePeriod(ctx context.Context, sub *tier.Subscription, period allocation.Period) error {
	prev, err := e.store.GetAllocation(ctx, sub.TenantID, period.Prev())
	if err != nil {
		if IsNotFound(err) {
			// First allocation for this tenant, or a gap. Still expire any
			// rollovers that aged out during the gap.
			return e.expireRollovers(ctx, sub.TenantID, period)
		}
		return err
	}

	active, err := e.store.ListActiveRollovers(ctx, sub.TenantID)
	if err != nil {
		return err
	}

	for _, ct := range types.AllCreditTypes {
		used := prev.Used.Get(ct)

		usedFromRollover := int64(0)
		for _, r := range active {
			if r.Type != ct || used-usedFromRollover <= 0 {
				continue
			}
			take := min(r.Remaining(), used-usedFromRollover)
			if take <= 0 {
				continue
			}
			if err := e.store.AddRolloverUsage(ctx, r.ID, take); err != nil {
				return err
			}
			usedFromRollover += take
		}

		fresh := prev.Base.Get(ct) + prev.AddOn.Get(ct)
		unusedFresh := fresh - (used - usedFromRollover)
		if unusedFresh < 0 {
			unusedFresh = 0
		}

		roll := int64(0)
		if ct.Rollable() {
			roll = min(unusedFresh, sub.MaxRollover.Get(ct))
		}

		if roll > 0 {
			r := &rollover.Rollover{
				Entity:       types.NewEntity(),
				ID:           id.NewRolloverID(),
				TenantID:     sub.TenantID,
				SourcePeriod: prev.Period,
				Type:         ct,
				AmountRolled: roll,
				ValidThrough: prev.Period.Add(3),
				Status:       rollover.StatusActive,
			}
			if err := e.store.CreateRollover(ctx, r); err != nil {
				return err
			}
			e.plugins.EmitRolloverCreated(ctx, r)
		}

		if expired := unusedFresh - roll; expired > 0 {
			if err := e.debitExpiredCredit(ctx, sub.TenantID, ct, expired,
				fmt.Sprintf("expire:%s:%s:%s", sub.TenantID, prev.Period, ct), prev.Period, ""); err != nil {
				return err
			}
		}
	}

	return e.expireRollovers(ctx, sub.TenantID, period)
}

// expireRollovers closes every active rollover whose window ended before the
// given period, debiting the unspent remainder from the ledger. The store's
// compare-and-set on the active status keeps the debit exactly-once.
func (e *Engine) expireRollovers(ctx context.Context, tenantID string, period allocation.Period) error {
	active, err := e.store.ListActiveRollovers(ctx, tenantID)
	if err != nil {
		return err
	}

	for _, r := range active {
		if !r.ExpiredBy(period) {
			continue
		}
		updated, err := e.store.MarkRolloverExpired(ctx, r.ID)
		if err != nil {
			if IsConflict(err) {
				continue
			}
			return err
		}
		if updated.AmountExpired > 0 {
			if err := e.debitExpiredCredit(ctx, tenantID, r.Type, updated.AmountExpired,
				"rollexp:"+r.ID.String(), r.SourcePeriod, r.ID.String()); err != nil {
				return err
			}
		}
		e.plugins.EmitRolloverExpired(ctx, updated)
		e.logger.Info("rollover expired",
			"tenant", tenantID, "rollover", r.ID, "type", r.Type,
			"expired", updated.AmountExpired, "source_period", r.SourcePeriod)
	}
	return nil
}

// debitExpiredCredit removes expired credit from the ledger so cached
// balances keep matching the transaction history. The debit is capped at the
// current balance so an expiry never pushes a tenant negative.
func (e *Engine) debitExpiredCredit(ctx context.Context, tenantID string, ct types.CreditType, n int64, key string, source allocation.Period, rolloverID string) error {
	balance, err := e.store.GetCachedBalance(ctx, tenantID, ct)
	if err != nil {
		return err
	}
	n = min(n, balance)
	if n <= 0 {
		return nil
	}

	_, err = e.postLocked(ctx, PostRequest{
		TenantID:       tenantID,
		Type:           ct,
		Amount:         -n,
		Kind:           transaction.KindAdjustment,
		IdempotencyKey: key,
		Reference:      string(source),
		Detail:         transaction.ExpiryDetail{Period: string(source), Rollover: rolloverID},
	})
	return err
}

// inboundRollover sums the remaining amount of every active rollover per
// credit type, for the new allocation's RolloverIn view.
func (e *Engine) inboundRollover(ctx context.Context, tenantID string) (types.Amount, error) {
	active, err := e.store.ListActiveRollovers(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	in := types.Zero()
	for _, r := range active {
		if n := r.Remaining(); n > 0 {
			in = in.Add(types.Of(r.Type, n))
		}
	}
	return in, nil
}

// GetAllocation retrieves one tenant's allocation for a period.
func (e *Engine) GetAllocation(ctx context.Context, tenantID string, period allocation.Period) (*allocation.MonthlyAllocation, error) {
	return e.store.GetAllocation(ctx, tenantID, period)
}

// ListAllocations lists a tenant's allocations.
func (e *Engine) ListAllocations(ctx context.Context, tenantID string, opts allocation.ListOpts) ([]*allocation.MonthlyAllocation, error) {
	return e.store.ListAllocations(ctx, tenantID, opts)
}

// ListRollovers lists a tenant's rollovers.
func (e *Engine) ListRollovers(ctx context.Context, tenantID string, opts rollover.ListOpts) ([]*rollover.Rollover, error) {
	return e.store.ListRollovers(ctx, tenantID, opts)
}
