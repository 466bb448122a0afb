// Package store defines the unified storage interface for the credit engine
// and is the parent of the concrete backends (memory, sqlite, postgres,
// mongo).
package store

import (
	"context"
	"time"

	"github.com/xraph/credits/allocation"
	"github.com/xraph/credits/audit"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/rollover"
	"github.com/xraph/credits/session"
	"github.com/xraph/credits/tier"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// BalanceKey names one cached balance row.
type BalanceKey struct {
	TenantID string
	Type     types.CreditType
}

// Store is the unified storage interface for all credit engine entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
type Store interface {
	// Transaction methods. AppendTransaction assigns the per-(tenant, type)
	// sequence number, fills BalanceAfter, and updates the cached balance in
	// the same unit of work. For reversals it also flips the parent's status
	// to reversed. The engine serializes appends per tenant, so backends see
	// at most one in-flight append per (tenant, type).
	AppendTransaction(ctx context.Context, txn *transaction.Transaction) error
	GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*transaction.Transaction, error)
	GetReversal(ctx context.Context, parentID id.TransactionID) (*transaction.Transaction, error)
	ListTransactions(ctx context.Context, tenantID string, opts transaction.ListOpts) ([]*transaction.Transaction, error)
	SumTransactions(ctx context.Context, tenantID string, ct types.CreditType) (int64, error)

	// Balance methods. The cached balance is a projection of the ledger,
	// maintained by AppendTransaction and corrected by SetCachedBalance
	// during reconciliation only.
	GetCachedBalance(ctx context.Context, tenantID string, ct types.CreditType) (int64, error)
	SetCachedBalance(ctx context.Context, tenantID string, ct types.CreditType, balance int64) error
	ListBalanceKeys(ctx context.Context) ([]BalanceKey, error)

	// Session methods
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, sessionID id.SessionID) (*session.Session, error)
	TransitionSession(ctx context.Context, sessionID id.SessionID, from, to session.Status, actual types.Amount) error
	SumReserved(ctx context.Context, tenantID string, ct types.CreditType) (int64, error)
	ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*session.Session, error)
	ListSessions(ctx context.Context, tenantID string, opts session.ListOpts) ([]*session.Session, error)

	// Allocation methods
	CreateAllocation(ctx context.Context, a *allocation.MonthlyAllocation) error
	GetAllocation(ctx context.Context, tenantID string, period allocation.Period) (*allocation.MonthlyAllocation, error)
	IncrementAllocationUsed(ctx context.Context, tenantID string, period allocation.Period, ct types.CreditType, n int64) error
	ListAllocations(ctx context.Context, tenantID string, opts allocation.ListOpts) ([]*allocation.MonthlyAllocation, error)

	// Rollover methods
	CreateRollover(ctx context.Context, r *rollover.Rollover) error
	GetRollover(ctx context.Context, rolloverID id.RolloverID) (*rollover.Rollover, error)
	ListActiveRollovers(ctx context.Context, tenantID string) ([]*rollover.Rollover, error)
	AddRolloverUsage(ctx context.Context, rolloverID id.RolloverID, n int64) error
	MarkRolloverExpired(ctx context.Context, rolloverID id.RolloverID) (*rollover.Rollover, error)
	ListRollovers(ctx context.Context, tenantID string, opts rollover.ListOpts) ([]*rollover.Rollover, error)

	// Tier and subscription methods
	CreateTier(ctx context.Context, t *tier.Tier) error
	GetTier(ctx context.Context, tierID id.TierID) (*tier.Tier, error)
	ListTiers(ctx context.Context, opts tier.ListOpts) ([]*tier.Tier, error)
	CreateAddOn(ctx context.Context, a *tier.AddOn) error
	GetAddOn(ctx context.Context, addOnID id.AddOnID) (*tier.AddOn, error)
	CreateSubscription(ctx context.Context, s *tier.Subscription) error
	UpdateSubscription(ctx context.Context, s *tier.Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*tier.Subscription, error)
	GetTenantSubscription(ctx context.Context, tenantID string) (*tier.Subscription, error)
	ListActiveTenantSubscriptions(ctx context.Context) ([]*tier.Subscription, error)

	// Audit methods
	SaveAuditReport(ctx context.Context, r *audit.Report) error
	GetAuditReport(ctx context.Context, runID id.AuditRunID) (*audit.Report, error)
	ListAuditReports(ctx context.Context, opts audit.ListOpts) ([]*audit.Report, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
