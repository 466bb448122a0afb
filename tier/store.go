package tier

import (
	"context"

	"github.com/xraph/credits/id"
)

// Store is the per-aggregate view of tier and subscription persistence.
type Store interface {
	CreateTier(ctx context.Context, t *Tier) error
	GetTier(ctx context.Context, tierID id.TierID) (*Tier, error)
	ListTiers(ctx context.Context, opts ListOpts) ([]*Tier, error)

	CreateAddOn(ctx context.Context, a *AddOn) error
	GetAddOn(ctx context.Context, addOnID id.AddOnID) (*AddOn, error)

	CreateSubscription(ctx context.Context, s *Subscription) error
	UpdateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)

	// GetTenantSubscription returns the tenant's current subscription, active
	// or not. The allocation scheduler and overdraft checks read policy from
	// it.
	GetTenantSubscription(ctx context.Context, tenantID string) (*Subscription, error)

	// ListActiveTenantSubscriptions returns every active subscription, for
	// the all-tenants allocation run.
	ListActiveTenantSubscriptions(ctx context.Context) ([]*Subscription, error)
}

// ListOpts filters tier listings.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
