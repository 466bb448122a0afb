// Package memory implements the credits store in process memory. It is the
// default backend for tests and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/allocation"
	"github.com/xraph/credits/audit"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/rollover"
	"github.com/xraph/credits/session"
	"github.com/xraph/credits/tier"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"

	creditstore "github.com/xraph/credits/store"
)

// compile-time interface check
var _ creditstore.Store = (*Store)(nil)

type balanceKey struct {
	tenantID string
	ct       types.CreditType
}

type allocationKey struct {
	tenantID string
	period   allocation.Period
}

type Store struct {
	mu sync.RWMutex

	// Ledger storage. txnLog keeps append order per tenant.
	txns         map[string]*transaction.Transaction
	txnLog       map[string][]*transaction.Transaction
	idempotency  map[string]*transaction.Transaction
	reversals    map[string]*transaction.Transaction
	sequences    map[balanceKey]uint64

	// Cached balance projection
	balances map[balanceKey]int64

	// Session storage
	sessions map[string]*session.Session

	// Allocation storage
	allocations map[allocationKey]*allocation.MonthlyAllocation

	// Rollover storage
	rollovers map[string]*rollover.Rollover

	// Tier and subscription storage
	tiers         map[string]*tier.Tier
	addOns        map[string]*tier.AddOn
	subscriptions map[string]*tier.Subscription

	// Audit report storage
	reports map[string]*audit.Report
}

func New() *Store {
	return &Store{
		txns:          make(map[string]*transaction.Transaction),
		txnLog:        make(map[string][]*transaction.Transaction),
		idempotency:   make(map[string]*transaction.Transaction),
		reversals:     make(map[string]*transaction.Transaction),
		sequences:     make(map[balanceKey]uint64),
		balances:      make(map[balanceKey]int64),
		sessions:      make(map[string]*session.Session),
		allocations:   make(map[allocationKey]*allocation.MonthlyAllocation),
		rollovers:     make(map[string]*rollover.Rollover),
		tiers:         make(map[string]*tier.Tier),
		addOns:        make(map[string]*tier.AddOn),
		subscriptions: make(map[string]*tier.Subscription),
		reports:       make(map[string]*audit.Report),
	}
}

// Transaction Store implementation

func (s *Store) AppendTransaction(_ context.Context, txn *transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txns[txn.ID.String()]; exists {
		return credits.ErrAlreadyExists
	}
	if txn.IdempotencyKey != "" {
		if _, exists := s.idempotency[txn.IdempotencyKey]; exists {
			return credits.ErrDuplicateIdempotencyKey
		}
	}

	var parent *transaction.Transaction
	if txn.IsReversal() {
		p, ok := s.txns[txn.ParentID.String()]
		if !ok {
			return credits.ErrTransactionNotFound
		}
		if _, reversed := s.reversals[txn.ParentID.String()]; reversed {
			return credits.ErrAlreadyReversed
		}
		parent = p
	}

	key := balanceKey{txn.TenantID, txn.Type}
	s.sequences[key]++
	txn.Sequence = s.sequences[key]
	s.balances[key] += txn.NetAmount()
	txn.BalanceAfter = s.balances[key]

	s.txns[txn.ID.String()] = txn
	s.txnLog[txn.TenantID] = append(s.txnLog[txn.TenantID], txn)
	if txn.IdempotencyKey != "" {
		s.idempotency[txn.IdempotencyKey] = txn
	}
	if parent != nil {
		s.reversals[txn.ParentID.String()] = txn
		parent.Status = transaction.StatusReversed
		parent.Touch()
	}
	return nil
}

func (s *Store) GetTransaction(_ context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if txn, ok := s.txns[txnID.String()]; ok {
		return txn, nil
	}
	return nil, credits.ErrTransactionNotFound
}

func (s *Store) GetTransactionByIdempotencyKey(_ context.Context, key string) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if txn, ok := s.idempotency[key]; ok {
		return txn, nil
	}
	return nil, credits.ErrTransactionNotFound
}

func (s *Store) GetReversal(_ context.Context, parentID id.TransactionID) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if txn, ok := s.reversals[parentID.String()]; ok {
		return txn, nil
	}
	return nil, credits.ErrTransactionNotFound
}

func (s *Store) ListTransactions(_ context.Context, tenantID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*transaction.Transaction, 0)
	for _, txn := range s.txnLog[tenantID] {
		if opts.Type != "" && txn.Type != opts.Type {
			continue
		}
		if opts.Kind != "" && txn.Kind != opts.Kind {
			continue
		}
		if opts.Status != "" && txn.Status != opts.Status {
			continue
		}
		if !opts.Since.IsZero() && txn.CreatedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && !txn.CreatedAt.Before(opts.Until) {
			continue
		}
		result = append(result, txn)
	}
	return paginate(result, opts.Limit, opts.Offset), nil
}

func (s *Store) SumTransactions(_ context.Context, tenantID string, ct types.CreditType) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for _, txn := range s.txnLog[tenantID] {
		if txn.Type == ct {
			sum += txn.NetAmount()
		}
	}
	return sum, nil
}

// Balance Store implementation

func (s *Store) GetCachedBalance(_ context.Context, tenantID string, ct types.CreditType) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[balanceKey{tenantID, ct}], nil
}

func (s *Store) SetCachedBalance(_ context.Context, tenantID string, ct types.CreditType, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[balanceKey{tenantID, ct}] = balance
	return nil
}

func (s *Store) ListBalanceKeys(_ context.Context) ([]creditstore.BalanceKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]creditstore.BalanceKey, 0, len(s.balances))
	for k := range s.balances {
		keys = append(keys, creditstore.BalanceKey{TenantID: k.tenantID, Type: k.ct})
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].TenantID != keys[j].TenantID {
			return keys[i].TenantID < keys[j].TenantID
		}
		return keys[i].Type < keys[j].Type
	})
	return keys, nil
}

// Session Store implementation

func (s *Store) CreateSession(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID.String()]; exists {
		return credits.ErrAlreadyExists
	}
	s.sessions[sess.ID.String()] = sess
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID id.SessionID) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sess, ok := s.sessions[sessionID.String()]; ok {
		return sess, nil
	}
	return nil, credits.ErrSessionNotFound
}

func (s *Store) TransitionSession(_ context.Context, sessionID id.SessionID, from, to session.Status, actual types.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID.String()]
	if !ok {
		return credits.ErrSessionNotFound
	}
	if sess.Status != from {
		return credits.ErrAlreadyTerminal
	}
	sess.Status = to
	if actual != nil {
		sess.ActualCost = actual
	}
	sess.Touch()
	return nil
}

func (s *Store) SumReserved(_ context.Context, tenantID string, ct types.CreditType) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for _, sess := range s.sessions {
		if sess.TenantID == tenantID && sess.Status == session.StatusReserved {
			sum += sess.EstimatedCost.Get(ct)
		}
	}
	return sum, nil
}

func (s *Store) ListExpiredSessions(_ context.Context, now time.Time, limit int) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*session.Session, 0)
	for _, sess := range s.sessions {
		if sess.Status == session.StatusReserved && !sess.ExpiresAt.After(now) {
			result = append(result, sess)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListSessions(_ context.Context, tenantID string, opts session.ListOpts) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*session.Session, 0)
	for _, sess := range s.sessions {
		if sess.TenantID != tenantID {
			continue
		}
		if opts.Status != "" && sess.Status != opts.Status {
			continue
		}
		if opts.OperationType != "" && sess.OperationType != opts.OperationType {
			continue
		}
		result = append(result, sess)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return paginate(result, opts.Limit, opts.Offset), nil
}

// Allocation Store implementation

func (s *Store) CreateAllocation(_ context.Context, a *allocation.MonthlyAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := allocationKey{a.TenantID, a.Period}
	if _, exists := s.allocations[key]; exists {
		return credits.ErrAllocationExists
	}
	s.allocations[key] = a
	return nil
}

func (s *Store) GetAllocation(_ context.Context, tenantID string, period allocation.Period) (*allocation.MonthlyAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.allocations[allocationKey{tenantID, period}]; ok {
		return a, nil
	}
	return nil, credits.ErrAllocationNotFound
}

func (s *Store) IncrementAllocationUsed(_ context.Context, tenantID string, period allocation.Period, ct types.CreditType, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.allocations[allocationKey{tenantID, period}]
	if !ok {
		return credits.ErrAllocationNotFound
	}
	a.Used = a.Used.Add(types.Of(ct, n))
	a.Touch()
	return nil
}

func (s *Store) ListAllocations(_ context.Context, tenantID string, opts allocation.ListOpts) ([]*allocation.MonthlyAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*allocation.MonthlyAllocation, 0)
	for key, a := range s.allocations {
		if key.tenantID != tenantID {
			continue
		}
		if opts.Since != "" && a.Period.Before(opts.Since) {
			continue
		}
		if opts.Until != "" && a.Period.After(opts.Until) {
			continue
		}
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Period < result[j].Period })
	return paginate(result, opts.Limit, opts.Offset), nil
}

// Rollover Store implementation

func (s *Store) CreateRollover(_ context.Context, r *rollover.Rollover) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rollovers[r.ID.String()]; exists {
		return credits.ErrAlreadyExists
	}
	s.rollovers[r.ID.String()] = r
	return nil
}

func (s *Store) GetRollover(_ context.Context, rolloverID id.RolloverID) (*rollover.Rollover, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.rollovers[rolloverID.String()]; ok {
		return r, nil
	}
	return nil, credits.ErrRolloverNotFound
}

func (s *Store) ListActiveRollovers(_ context.Context, tenantID string) ([]*rollover.Rollover, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*rollover.Rollover, 0)
	for _, r := range s.rollovers {
		if r.TenantID == tenantID && r.Status == rollover.StatusActive {
			result = append(result, r)
		}
	}
	// Oldest source period first, so usage drains the credit closest to expiry.
	sort.Slice(result, func(i, j int) bool {
		if result[i].SourcePeriod != result[j].SourcePeriod {
			return result[i].SourcePeriod < result[j].SourcePeriod
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (s *Store) AddRolloverUsage(_ context.Context, rolloverID id.RolloverID, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rollovers[rolloverID.String()]
	if !ok {
		return credits.ErrRolloverNotFound
	}
	if r.Status != rollover.StatusActive {
		return credits.ErrRolloverNotActive
	}
	r.AmountUsed += n
	r.Touch()
	return nil
}

func (s *Store) MarkRolloverExpired(_ context.Context, rolloverID id.RolloverID) (*rollover.Rollover, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rollovers[rolloverID.String()]
	if !ok {
		return nil, credits.ErrRolloverNotFound
	}
	if r.Status != rollover.StatusActive {
		return nil, credits.ErrRolloverNotActive
	}
	r.AmountExpired = r.Remaining()
	r.Status = rollover.StatusExpired
	r.Touch()
	return r, nil
}

func (s *Store) ListRollovers(_ context.Context, tenantID string, opts rollover.ListOpts) ([]*rollover.Rollover, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*rollover.Rollover, 0)
	for _, r := range s.rollovers {
		if r.TenantID != tenantID {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if opts.Type != "" && r.Type != opts.Type {
			continue
		}
		if opts.SourcePeriod != "" && r.SourcePeriod != opts.SourcePeriod {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SourcePeriod != result[j].SourcePeriod {
			return result[i].SourcePeriod < result[j].SourcePeriod
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return paginate(result, opts.Limit, opts.Offset), nil
}

// Tier Store implementation

func (s *Store) CreateTier(_ context.Context, t *tier.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tiers[t.ID.String()]; exists {
		return credits.ErrAlreadyExists
	}
	s.tiers[t.ID.String()] = t
	return nil
}

func (s *Store) GetTier(_ context.Context, tierID id.TierID) (*tier.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.tiers[tierID.String()]; ok {
		return t, nil
	}
	return nil, credits.ErrTierNotFound
}

func (s *Store) ListTiers(_ context.Context, opts tier.ListOpts) ([]*tier.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*tier.Tier, 0)
	for _, t := range s.tiers {
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return paginate(result, opts.Limit, opts.Offset), nil
}

func (s *Store) CreateAddOn(_ context.Context, a *tier.AddOn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.addOns[a.ID.String()]; exists {
		return credits.ErrAlreadyExists
	}
	s.addOns[a.ID.String()] = a
	return nil
}

func (s *Store) GetAddOn(_ context.Context, addOnID id.AddOnID) (*tier.AddOn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.addOns[addOnID.String()]; ok {
		return a, nil
	}
	return nil, credits.ErrAddOnNotFound
}

func (s *Store) CreateSubscription(_ context.Context, sub *tier.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; exists {
		return credits.ErrAlreadyExists
	}
	for _, existing := range s.subscriptions {
		if existing.TenantID == sub.TenantID && existing.Status == tier.SubscriptionActive &&
			sub.Status == tier.SubscriptionActive {
			return credits.ErrAlreadyExists
		}
	}
	s.subscriptions[sub.ID.String()] = sub
	return nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *tier.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; !exists {
		return credits.ErrSubscriptionNotFound
	}
	s.subscriptions[sub.ID.String()] = sub
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*tier.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID.String()]; ok {
		return sub, nil
	}
	return nil, credits.ErrSubscriptionNotFound
}

func (s *Store) GetTenantSubscription(_ context.Context, tenantID string) (*tier.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.TenantID == tenantID && sub.Status == tier.SubscriptionActive {
			return sub, nil
		}
	}
	return nil, credits.ErrSubscriptionNotFound
}

func (s *Store) ListActiveTenantSubscriptions(_ context.Context) ([]*tier.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*tier.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.Status == tier.SubscriptionActive {
			result = append(result, sub)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TenantID < result[j].TenantID })
	return result, nil
}

// Audit Store implementation

func (s *Store) SaveAuditReport(_ context.Context, r *audit.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ID.String()] = r
	return nil
}

func (s *Store) GetAuditReport(_ context.Context, runID id.AuditRunID) (*audit.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.reports[runID.String()]; ok {
		return r, nil
	}
	return nil, credits.ErrAuditReportNotFound
}

func (s *Store) ListAuditReports(_ context.Context, opts audit.ListOpts) ([]*audit.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*audit.Report, 0)
	for _, r := range s.reports {
		if opts.OnlyDirty && r.Clean() {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })
	return paginate(result, opts.Limit, opts.Offset), nil
}

// Core Store implementation

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
