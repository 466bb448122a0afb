package mongo

import (
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

// Amounts are stored as plain maps so the per-type fields stay queryable
// with dot paths ("estimated_cost.lead").

func toAmountDoc(a types.Amount) map[string]int64 {
	doc := make(map[string]int64, len(a))
	for t, n := range a {
		doc[string(t)] = n
	}
	return doc
}

func fromAmountDoc(doc map[string]int64) types.Amount {
	a := types.Zero()
	for t, n := range doc {
		a[types.CreditType(t)] = n
	}
	return a
}

// ==================== Transaction model ====================

type txnModel struct {
	ID             string    `bson:"_id"`
	TenantID       string    `bson:"tenant_id"`
	Type           string    `bson:"type"`
	Kind           string    `bson:"kind"`
	DebitAmount    int64     `bson:"debit_amount"`
	CreditAmount   int64     `bson:"credit_amount"`
	BalanceAfter   int64     `bson:"balance_after"`
	Sequence       uint64    `bson:"sequence"`
	Status         string    `bson:"status"`
	IdempotencyKey string    `bson:"idempotency_key,omitempty"`
	Reference      string    `bson:"reference,omitempty"`
	ParentID       string    `bson:"parent_id,omitempty"`
	Detail         []byte    `bson:"detail,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func toTxnModel(txn *transaction.Transaction) (*txnModel, error) {
	detail, err := transaction.MarshalDetail(txn.Detail)
	if err != nil {
		return nil, err
	}
	m := &txnModel{
		ID:             txn.ID.String(),
		TenantID:       txn.TenantID,
		Type:           string(txn.Type),
		Kind:           string(txn.Kind),
		DebitAmount:    txn.DebitAmount,
		CreditAmount:   txn.CreditAmount,
		BalanceAfter:   txn.BalanceAfter,
		Sequence:       txn.Sequence,
		Status:         string(txn.Status),
		IdempotencyKey: txn.IdempotencyKey,
		Reference:      txn.Reference,
		Detail:         detail,
		CreatedAt:      txn.CreatedAt,
		UpdatedAt:      txn.UpdatedAt,
	}
	if !txn.ParentID.IsNil() {
		m.ParentID = txn.ParentID.String()
	}
	return m, nil
}

func fromTxnModel(m *txnModel) (*transaction.Transaction, error) {
	txnID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	txn := &transaction.Transaction{
		Entity:         types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             txnID,
		TenantID:       m.TenantID,
		Type:           types.CreditType(m.Type),
		Kind:           transaction.Kind(m.Kind),
		DebitAmount:    m.DebitAmount,
		CreditAmount:   m.CreditAmount,
		BalanceAfter:   m.BalanceAfter,
		Sequence:       m.Sequence,
		Status:         transaction.Status(m.Status),
		IdempotencyKey: m.IdempotencyKey,
		Reference:      m.Reference,
	}
	if m.ParentID != "" {
		if txn.ParentID, err = id.Parse(m.ParentID); err != nil {
			return nil, err
		}
	}
	if txn.Detail, err = transaction.UnmarshalDetail(m.Detail); err != nil {
		return nil, err
	}
	return txn, nil
}

// ==================== Balance model ====================

type balanceModel struct {
	ID        string    `bson:"_id"` // tenantID + "|" + type
	TenantID  string    `bson:"tenant_id"`
	Type      string    `bson:"type"`
	Balance   int64     `bson:"balance"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func balanceDocID(tenantID string, ct types.CreditType) string {
	return tenantID + "|" + string(ct)
}

// ==================== Session model ====================

type sessionModel struct {
	ID            string           `bson:"_id"`
	TenantID      string           `bson:"tenant_id"`
	OperationType string           `bson:"operation_type"`
	EstimatedCost map[string]int64 `bson:"estimated_cost"`
	ActualCost    map[string]int64 `bson:"actual_cost,omitempty"`
	Status        string           `bson:"status"`
	ExpiresAt     time.Time        `bson:"expires_at"`
	CreatedAt     time.Time        `bson:"created_at"`
	UpdatedAt     time.Time        `bson:"updated_at"`
}

func toSessionModel(sess *session.Session) *sessionModel {
	m := &sessionModel{
		ID:            sess.ID.String(),
		TenantID:      sess.TenantID,
		OperationType: sess.OperationType,
		EstimatedCost: toAmountDoc(sess.EstimatedCost),
		Status:        string(sess.Status),
		ExpiresAt:     sess.ExpiresAt,
		CreatedAt:     sess.CreatedAt,
		UpdatedAt:     sess.UpdatedAt,
	}
	if sess.ActualCost != nil {
		m.ActualCost = toAmountDoc(sess.ActualCost)
	}
	return m
}

func fromSessionModel(m *sessionModel) (*session.Session, error) {
	sessID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	sess := &session.Session{
		Entity:        types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:            sessID,
		TenantID:      m.TenantID,
		OperationType: m.OperationType,
		EstimatedCost: fromAmountDoc(m.EstimatedCost),
		Status:        session.Status(m.Status),
		ExpiresAt:     m.ExpiresAt,
	}
	if m.ActualCost != nil {
		sess.ActualCost = fromAmountDoc(m.ActualCost)
	}
	return sess, nil
}

// ==================== Allocation model ====================

type allocationModel struct {
	ID         string           `bson:"_id"`
	TenantID   string           `bson:"tenant_id"`
	Period     string           `bson:"period"`
	Base       map[string]int64 `bson:"base"`
	AddOn      map[string]int64 `bson:"addon"`
	RolloverIn map[string]int64 `bson:"rollover_in"`
	Used       map[string]int64 `bson:"used"`
	CreatedAt  time.Time        `bson:"created_at"`
	UpdatedAt  time.Time        `bson:"updated_at"`
}

func toAllocationModel(a *allocation.MonthlyAllocation) *allocationModel {
	return &allocationModel{
		ID:         a.ID.String(),
		TenantID:   a.TenantID,
		Period:     string(a.Period),
		Base:       toAmountDoc(a.Base),
		AddOn:      toAmountDoc(a.AddOn),
		RolloverIn: toAmountDoc(a.RolloverIn),
		Used:       toAmountDoc(a.Used),
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func fromAllocationModel(m *allocationModel) (*allocation.MonthlyAllocation, error) {
	allocID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	return &allocation.MonthlyAllocation{
		Entity:     types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:         allocID,
		TenantID:   m.TenantID,
		Period:     allocation.Period(m.Period),
		Base:       fromAmountDoc(m.Base),
		AddOn:      fromAmountDoc(m.AddOn),
		RolloverIn: fromAmountDoc(m.RolloverIn),
		Used:       fromAmountDoc(m.Used),
	}, nil
}

// ==================== Rollover model ====================

type rolloverModel struct {
	ID            string    `bson:"_id"`
	TenantID      string    `bson:"tenant_id"`
	SourcePeriod  string    `bson:"source_period"`
	Type          string    `bson:"type"`
	AmountRolled  int64     `bson:"amount_rolled"`
	AmountUsed    int64     `bson:"amount_used"`
	AmountExpired int64     `bson:"amount_expired"`
	ValidThrough  string    `bson:"valid_through"`
	Status        string    `bson:"status"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func toRolloverModel(r *rollover.Rollover) *rolloverModel {
	return &rolloverModel{
		ID:            r.ID.String(),
		TenantID:      r.TenantID,
		SourcePeriod:  string(r.SourcePeriod),
		Type:          string(r.Type),
		AmountRolled:  r.AmountRolled,
		AmountUsed:    r.AmountUsed,
		AmountExpired: r.AmountExpired,
		ValidThrough:  string(r.ValidThrough),
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func fromRolloverModel(m *rolloverModel) (*rollover.Rollover, error) {
	rollID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	return &rollover.Rollover{
		Entity:        types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:            rollID,
		TenantID:      m.TenantID,
		SourcePeriod:  allocation.Period(m.SourcePeriod),
		Type:          types.CreditType(m.Type),
		AmountRolled:  m.AmountRolled,
		AmountUsed:    m.AmountUsed,
		AmountExpired: m.AmountExpired,
		ValidThrough:  allocation.Period(m.ValidThrough),
		Status:        rollover.Status(m.Status),
	}, nil
}

// ==================== Tier models ====================

type tierModel struct {
	ID          string            `bson:"_id"`
	Name        string            `bson:"name"`
	Slug        string            `bson:"slug"`
	Description string            `bson:"description"`
	BaseCredits map[string]int64  `bson:"base_credits"`
	PriceCents  int64             `bson:"price_cents"`
	Currency    string            `bson:"currency"`
	Status      string            `bson:"status"`
	Metadata    map[string]string `bson:"metadata,omitempty"`
	CreatedAt   time.Time         `bson:"created_at"`
	UpdatedAt   time.Time         `bson:"updated_at"`
}

func toTierModel(t *tier.Tier) *tierModel {
	return &tierModel{
		ID:          t.ID.String(),
		Name:        t.Name,
		Slug:        t.Slug,
		Description: t.Description,
		BaseCredits: toAmountDoc(t.BaseCredits),
		PriceCents:  t.PriceCents,
		Currency:    t.Currency,
		Status:      string(t.Status),
		Metadata:    t.Metadata,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func fromTierModel(m *tierModel) (*tier.Tier, error) {
	tierID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	return &tier.Tier{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          tierID,
		Name:        m.Name,
		Slug:        m.Slug,
		Description: m.Description,
		BaseCredits: fromAmountDoc(m.BaseCredits),
		PriceCents:  m.PriceCents,
		Currency:    m.Currency,
		Status:      tier.Status(m.Status),
		Metadata:    m.Metadata,
	}, nil
}

type addOnModel struct {
	ID         string    `bson:"_id"`
	Name       string    `bson:"name"`
	Slug       string    `bson:"slug"`
	Type       string    `bson:"type"`
	Credits    int64     `bson:"credits"`
	PriceCents int64     `bson:"price_cents"`
	Currency   string    `bson:"currency"`
	Status     string    `bson:"status"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func toAddOnModel(a *tier.AddOn) *addOnModel {
	return &addOnModel{
		ID:         a.ID.String(),
		Name:       a.Name,
		Slug:       a.Slug,
		Type:       string(a.Type),
		Credits:    a.Credits,
		PriceCents: a.PriceCents,
		Currency:   a.Currency,
		Status:     string(a.Status),
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func fromAddOnModel(m *addOnModel) (*tier.AddOn, error) {
	addOnID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	return &tier.AddOn{
		Entity:     types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:         addOnID,
		Name:       m.Name,
		Slug:       m.Slug,
		Type:       types.CreditType(m.Type),
		Credits:    m.Credits,
		PriceCents: m.PriceCents,
		Currency:   m.Currency,
		Status:     tier.Status(m.Status),
	}, nil
}

type subscriptionModel struct {
	ID             string            `bson:"_id"`
	TenantID       string            `bson:"tenant_id"`
	TierID         string            `bson:"tier_id"`
	AddOnIDs       []string          `bson:"addon_ids,omitempty"`
	Status         string            `bson:"status"`
	AllowOverdraft bool              `bson:"allow_overdraft"`
	OverdraftLimit map[string]int64  `bson:"overdraft_limit,omitempty"`
	MaxRollover    map[string]int64  `bson:"max_rollover,omitempty"`
	Metadata       map[string]string `bson:"metadata,omitempty"`
	CreatedAt      time.Time         `bson:"created_at"`
	UpdatedAt      time.Time         `bson:"updated_at"`
}

func toSubscriptionModel(sub *tier.Subscription) *subscriptionModel {
	m := &subscriptionModel{
		ID:             sub.ID.String(),
		TenantID:       sub.TenantID,
		TierID:         sub.TierID.String(),
		Status:         string(sub.Status),
		AllowOverdraft: sub.AllowOverdraft,
		Metadata:       sub.Metadata,
		CreatedAt:      sub.CreatedAt,
		UpdatedAt:      sub.UpdatedAt,
	}
	for _, addOnID := range sub.AddOnIDs {
		m.AddOnIDs = append(m.AddOnIDs, addOnID.String())
	}
	if sub.OverdraftLimit != nil {
		m.OverdraftLimit = toAmountDoc(sub.OverdraftLimit)
	}
	if sub.MaxRollover != nil {
		m.MaxRollover = toAmountDoc(sub.MaxRollover)
	}
	return m
}

func fromSubscriptionModel(m *subscriptionModel) (*tier.Subscription, error) {
	subID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	tierID, err := id.Parse(m.TierID)
	if err != nil {
		return nil, err
	}
	sub := &tier.Subscription{
		Entity:         types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             subID,
		TenantID:       m.TenantID,
		TierID:         tierID,
		Status:         tier.SubscriptionStatus(m.Status),
		AllowOverdraft: m.AllowOverdraft,
		Metadata:       m.Metadata,
	}
	for _, raw := range m.AddOnIDs {
		parsed, err := id.Parse(raw)
		if err != nil {
			return nil, err
		}
		sub.AddOnIDs = append(sub.AddOnIDs, parsed)
	}
	if m.OverdraftLimit != nil {
		sub.OverdraftLimit = fromAmountDoc(m.OverdraftLimit)
	}
	if m.MaxRollover != nil {
		sub.MaxRollover = fromAmountDoc(m.MaxRollover)
	}
	return sub, nil
}

// ==================== Audit report model ====================

type discrepancyModel struct {
	TenantID  string `bson:"tenant_id"`
	Type      string `bson:"type,omitempty"`
	Severity  string `bson:"severity"`
	Cached    int64  `bson:"cached,omitempty"`
	Computed  int64  `bson:"computed,omitempty"`
	SessionID string `bson:"session_id,omitempty"`
	Detail    string `bson:"detail,omitempty"`
}

type auditReportModel struct {
	ID             string             `bson:"_id"`
	StartedAt      time.Time          `bson:"started_at"`
	FinishedAt     time.Time          `bson:"finished_at"`
	TenantsScanned int                `bson:"tenants_scanned"`
	Discrepancies  []discrepancyModel `bson:"discrepancies,omitempty"`
	CreatedAt      time.Time          `bson:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at"`
}

func toAuditReportModel(r *audit.Report) *auditReportModel {
	m := &auditReportModel{
		ID:             r.ID.String(),
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		TenantsScanned: r.TenantsScanned,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	for _, d := range r.Discrepancies {
		dm := discrepancyModel{
			TenantID: d.TenantID,
			Type:     string(d.Type),
			Severity: string(d.Severity),
			Cached:   d.Cached,
			Computed: d.Computed,
			Detail:   d.Detail,
		}
		if !d.SessionID.IsNil() {
			dm.SessionID = d.SessionID.String()
		}
		m.Discrepancies = append(m.Discrepancies, dm)
	}
	return m
}

func fromAuditReportModel(m *auditReportModel) (*audit.Report, error) {
	runID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	r := &audit.Report{
		Entity:         types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             runID,
		StartedAt:      m.StartedAt,
		FinishedAt:     m.FinishedAt,
		TenantsScanned: m.TenantsScanned,
	}
	for _, dm := range m.Discrepancies {
		d := audit.Discrepancy{
			TenantID: dm.TenantID,
			Type:     types.CreditType(dm.Type),
			Severity: audit.Severity(dm.Severity),
			Cached:   dm.Cached,
			Computed: dm.Computed,
			Detail:   dm.Detail,
		}
		if dm.SessionID != "" {
			if d.SessionID, err = id.Parse(dm.SessionID); err != nil {
				return nil, err
			}
		}
		r.Discrepancies = append(r.Discrepancies, d)
	}
	return r, nil
}
