package credits

import (
	"context"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/tier"
	"github.com/xraph/credits/types"
)

// CreateTier creates a new pricing tier.
func (e *Engine) CreateTier(ctx context.Context, t *tier.Tier) error {
	if t.ID == (id.TierID{}) {
		t.ID = id.NewTierID()
	}
	if t.Status == "" {
		t.Status = tier.StatusActive
	}
	t.Entity = types.NewEntity()
	return e.store.CreateTier(ctx, t)
}

// GetTier retrieves a tier by ID.
func (e *Engine) GetTier(ctx context.Context, tierID id.TierID) (*tier.Tier, error) {
	return e.store.GetTier(ctx, tierID)
}

// ListTiers lists tiers.
func (e *Engine) ListTiers(ctx context.Context, opts tier.ListOpts) ([]*tier.Tier, error) {
	return e.store.ListTiers(ctx, opts)
}

// CreateAddOn creates a new add-on credit pack.
func (e *Engine) CreateAddOn(ctx context.Context, a *tier.AddOn) error {
	if a.ID == (id.AddOnID{}) {
		a.ID = id.NewAddOnID()
	}
	if a.Status == "" {
		a.Status = tier.StatusActive
	}
	a.Entity = types.NewEntity()
	return e.store.CreateAddOn(ctx, a)
}

// CreateSubscription binds a tenant to a tier.
func (e *Engine) CreateSubscription(ctx context.Context, s *tier.Subscription) error {
	if s.ID == (id.SubscriptionID{}) {
		s.ID = id.NewSubscriptionID()
	}
	if s.Status == "" {
		s.Status = tier.SubscriptionActive
	}
	s.Entity = types.NewEntity()

	if _, err := e.store.GetTier(ctx, s.TierID); err != nil {
		return err
	}
	return e.store.CreateSubscription(ctx, s)
}

// UpdateSubscription replaces a subscription's tier, add-ons, or policy.
func (e *Engine) UpdateSubscription(ctx context.Context, s *tier.Subscription) error {
	s.Touch()
	return e.store.UpdateSubscription(ctx, s)
}

// GetTenantSubscription retrieves the tenant's current subscription.
func (e *Engine) GetTenantSubscription(ctx context.Context, tenantID string) (*tier.Subscription, error) {
	return e.store.GetTenantSubscription(ctx, tenantID)
}
