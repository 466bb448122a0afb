package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/xraph/credits/allocation"
	"github.com/xraph/credits/audit"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/rollover"
	"github.com/xraph/credits/session"
	"github.com/xraph/credits/tier"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ==================== Column helpers ====================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullID(v id.ID) any {
	if v.IsNil() {
		return nil
	}
	return v.String()
}

func parseNullID(ns sql.NullString) (id.ID, error) {
	if !ns.Valid || ns.String == "" {
		return id.Nil, nil
	}
	return id.Parse(ns.String)
}

func limitClause(limit, offset int) string {
	var clause string
	if limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}
	return clause
}

func marshalAmount(a types.Amount) ([]byte, error) {
	if a == nil {
		a = types.Zero()
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: marshal amount: %w", err)
	}
	return raw, nil
}

func unmarshalAmount(raw []byte) (types.Amount, error) {
	if len(raw) == 0 {
		return types.Zero(), nil
	}
	a := types.Zero()
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("credits/postgres: unmarshal amount: %w", err)
	}
	return a, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: marshal metadata: %w", err)
	}
	return raw, nil
}

func unmarshalMetadata(raw []byte) (map[string]string, error) {
	if len(raw) == 0 || string(raw) == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("credits/postgres: unmarshal metadata: %w", err)
	}
	return m, nil
}

// ==================== Row scanners ====================

func scanTxn(row rowScanner) (*transaction.Transaction, error) {
	var (
		txn      transaction.Transaction
		rawID    string
		ct       string
		kind     string
		status   string
		idemKey  sql.NullString
		parentID sql.NullString
		detail   []byte
	)
	err := row.Scan(&rawID, &txn.TenantID, &ct, &kind, &txn.DebitAmount,
		&txn.CreditAmount, &txn.BalanceAfter, &txn.Sequence, &status,
		&idemKey, &txn.Reference, &parentID, &detail,
		&txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if txn.ID, err = id.Parse(rawID); err != nil {
		return nil, err
	}
	txn.Type = types.CreditType(ct)
	txn.Kind = transaction.Kind(kind)
	txn.Status = transaction.Status(status)
	if idemKey.Valid {
		txn.IdempotencyKey = idemKey.String
	}
	if txn.ParentID, err = parseNullID(parentID); err != nil {
		return nil, err
	}
	if txn.Detail, err = transaction.UnmarshalDetail(detail); err != nil {
		return nil, err
	}
	return &txn, nil
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess      session.Session
		rawID     string
		estimated []byte
		actual    []byte
		status    string
	)
	err := row.Scan(&rawID, &sess.TenantID, &sess.OperationType, &estimated,
		&actual, &status, &sess.ExpiresAt, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if sess.ID, err = id.Parse(rawID); err != nil {
		return nil, err
	}
	if sess.EstimatedCost, err = unmarshalAmount(estimated); err != nil {
		return nil, err
	}
	if len(actual) > 0 {
		if sess.ActualCost, err = unmarshalAmount(actual); err != nil {
			return nil, err
		}
	}
	sess.Status = session.Status(status)
	return &sess, nil
}

func collectSessions(rows *sql.Rows) ([]*session.Session, error) {
	result := make([]*session.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

func scanAllocation(row rowScanner) (*allocation.MonthlyAllocation, error) {
	var (
		a          allocation.MonthlyAllocation
		rawID      string
		period     string
		base       []byte
		addOn      []byte
		rolloverIn []byte
		used       []byte
	)
	err := row.Scan(&rawID, &a.TenantID, &period, &base, &addOn, &rolloverIn,
		&used, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if a.ID, err = id.Parse(rawID); err != nil {
		return nil, err
	}
	a.Period = allocation.Period(period)
	if a.Base, err = unmarshalAmount(base); err != nil {
		return nil, err
	}
	if a.AddOn, err = unmarshalAmount(addOn); err != nil {
		return nil, err
	}
	if a.RolloverIn, err = unmarshalAmount(rolloverIn); err != nil {
		return nil, err
	}
	if a.Used, err = unmarshalAmount(used); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanRollover(row rowScanner) (*rollover.Rollover, error) {
	var (
		r            rollover.Rollover
		rawID        string
		sourcePeriod string
		ct           string
		validThrough string
		status       string
	)
	err := row.Scan(&rawID, &r.TenantID, &sourcePeriod, &ct, &r.AmountRolled,
		&r.AmountUsed, &r.AmountExpired, &validThrough, &status,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if r.ID, err = id.Parse(rawID); err != nil {
		return nil, err
	}
	r.SourcePeriod = allocation.Period(sourcePeriod)
	r.Type = types.CreditType(ct)
	r.ValidThrough = allocation.Period(validThrough)
	r.Status = rollover.Status(status)
	return &r, nil
}

func collectRollovers(rows *sql.Rows) ([]*rollover.Rollover, error) {
	result := make([]*rollover.Rollover, 0)
	for rows.Next() {
		r, err := scanRollover(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanTier(row rowScanner) (*tier.Tier, error) {
	var (
		t           tier.Tier
		rawID       string
		baseCredits []byte
		status      string
		metadata    []byte
	)
	err := row.Scan(&rawID, &t.Name, &t.Slug, &t.Description, &baseCredits,
		&t.PriceCents, &t.Currency, &status, &metadata,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if t.ID, err = id.Parse(rawID); err != nil {
		return nil, err
	}
	if t.BaseCredits, err = unmarshalAmount(baseCredits); err != nil {
		return nil, err
	}
	t.Status = tier.Status(status)
	if t.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, err
	}
	return &t, nil
}

func subscriptionArgs(sub *tier.Subscription) ([]any, error) {
	addOnIDs := make([]string, 0, len(sub.AddOnIDs))
	for _, addOnID := range sub.AddOnIDs {
		addOnIDs = append(addOnIDs, addOnID.String())
	}
	rawAddOns, err := json.Marshal(addOnIDs)
	if err != nil {
		return nil, err
	}
	overdraft, err := marshalAmount(sub.OverdraftLimit)
	if err != nil {
		return nil, err
	}
	maxRollover, err := marshalAmount(sub.MaxRollover)
	if err != nil {
		return nil, err
	}
	metadata, err := marshalMetadata(sub.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{
		sub.ID.String(), sub.TenantID, sub.TierID.String(), rawAddOns,
		string(sub.Status), sub.AllowOverdraft, overdraft, maxRollover,
		metadata, sub.CreatedAt, sub.UpdatedAt,
	}, nil
}

func scanSubscription(row rowScanner) (*tier.Subscription, error) {
	var (
		sub         tier.Subscription
		rawID       string
		rawTierID   string
		rawAddOns   []byte
		status      string
		overdraft   []byte
		maxRollover []byte
		metadata    []byte
	)
	err := row.Scan(&rawID, &sub.TenantID, &rawTierID, &rawAddOns, &status,
		&sub.AllowOverdraft, &overdraft, &maxRollover, &metadata,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if sub.ID, err = id.Parse(rawID); err != nil {
		return nil, err
	}
	if sub.TierID, err = id.Parse(rawTierID); err != nil {
		return nil, err
	}
	var addOnIDs []string
	if err := json.Unmarshal(rawAddOns, &addOnIDs); err != nil {
		return nil, fmt.Errorf("credits/postgres: unmarshal addon ids: %w", err)
	}
	for _, raw := range addOnIDs {
		parsed, err := id.Parse(raw)
		if err != nil {
			return nil, err
		}
		sub.AddOnIDs = append(sub.AddOnIDs, parsed)
	}
	sub.Status = tier.SubscriptionStatus(status)
	if sub.OverdraftLimit, err = unmarshalAmount(overdraft); err != nil {
		return nil, err
	}
	if sub.MaxRollover, err = unmarshalAmount(maxRollover); err != nil {
		return nil, err
	}
	if sub.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, err
	}
	return &sub, nil
}

func scanAuditReport(row rowScanner) (*audit.Report, error) {
	var (
		r             audit.Report
		rawID         string
		discrepancies []byte
	)
	err := row.Scan(&rawID, &r.StartedAt, &r.FinishedAt, &r.TenantsScanned,
		&discrepancies, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if r.ID, err = id.Parse(rawID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(discrepancies, &r.Discrepancies); err != nil {
		return nil, fmt.Errorf("credits/postgres: unmarshal discrepancies: %w", err)
	}
	return &r, nil
}
