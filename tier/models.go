// Package tier defines pricing tiers, add-on packs, and the tenant
// subscriptions that bind a tenant to them.
package tier

import (
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDraft    Status = "draft"
)

// Tier is a subscription level with a monthly credit grant.
type Tier struct {
	types.Entity
	ID          id.TierID         `json:"id"`
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	Description string            `json:"description"`
	BaseCredits types.Amount      `json:"base_credits"`
	PriceCents  int64             `json:"price_cents"`
	Currency    string            `json:"currency"`
	Status      Status            `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AddOn is a purchasable credit pack granted on top of a tier each period.
type AddOn struct {
	types.Entity
	ID         id.AddOnID       `json:"id"`
	Name       string           `json:"name"`
	Slug       string           `json:"slug"`
	Type       types.CreditType `json:"type"`
	Credits    int64            `json:"credits"`
	PriceCents int64            `json:"price_cents"`
	Currency   string           `json:"currency"`
	Status     Status           `json:"status"`
}

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPaused   SubscriptionStatus = "paused"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription binds a tenant to a tier plus zero or more add-ons, and holds
// the tenant-level spending policy.
type Subscription struct {
	types.Entity
	ID       id.SubscriptionID `json:"id"`
	TenantID string            `json:"tenant_id"`
	TierID   id.TierID         `json:"tier_id"`
	AddOnIDs []id.AddOnID      `json:"addon_ids,omitempty"`
	Status   SubscriptionStatus `json:"status"`

	// AllowOverdraft lets completed usage drive the balance below zero,
	// bounded per type by OverdraftLimit.
	AllowOverdraft bool         `json:"allow_overdraft"`
	OverdraftLimit types.Amount `json:"overdraft_limit,omitempty"`

	// MaxRollover caps, per credit type, how much unused credit may carry
	// into the next period. Absent types cap at zero.
	MaxRollover types.Amount `json:"max_rollover,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// OverdraftFloor returns the lowest balance completed usage may reach for a
// credit type: zero without overdraft, -limit with it.
func (s *Subscription) OverdraftFloor(ct types.CreditType) int64 {
	if !s.AllowOverdraft {
		return 0
	}
	return -s.OverdraftLimit.Get(ct)
}
