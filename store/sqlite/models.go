package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
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

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ==================== Column helpers ====================

const timeFormat = time.RFC3339Nano

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("credits/sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

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
	if limit <= 0 && offset <= 0 {
		return ""
	}
	if limit <= 0 {
		// SQLite requires a LIMIT before OFFSET; -1 means unbounded.
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	}
	if offset > 0 {
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func marshalAmount(a types.Amount) (string, error) {
	if a == nil {
		a = types.Zero()
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("credits/sqlite: marshal amount: %w", err)
	}
	return string(raw), nil
}

func unmarshalAmount(raw string) (types.Amount, error) {
	if raw == "" {
		return types.Zero(), nil
	}
	a := types.Zero()
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("credits/sqlite: unmarshal amount: %w", err)
	}
	return a, nil
}

func marshalMetadata(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("credits/sqlite: marshal metadata: %w", err)
	}
	return string(raw), nil
}

func unmarshalMetadata(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("credits/sqlite: unmarshal metadata: %w", err)
	}
	return m, nil
}

// ==================== Row scanners ====================

func scanTxn(row rowScanner) (*transaction.Transaction, error) {
	var (
		txn        transaction.Transaction
		rawID      string
		ct         string
		kind       string
		status     string
		idemKey    sql.NullString
		parentID   sql.NullString
		detail     []byte
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&rawID, &txn.TenantID, &ct, &kind, &txn.DebitAmount,
		&txn.CreditAmount, &txn.BalanceAfter, &txn.Sequence, &status,
		&idemKey, &txn.Reference, &parentID, &detail, &createdAt, &updatedAt)
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
	if txn.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if txn.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &txn, nil
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess      session.Session
		rawID     string
		estimated string
		actual    sql.NullString
		status    string
		expiresAt string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&rawID, &sess.TenantID, &sess.OperationType, &estimated,
		&actual, &status, &expiresAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if sess.ID, err = id.Parse(rawID); err != nil {
		return nil, err
	}
	if sess.EstimatedCost, err = unmarshalAmount(estimated); err != nil {
		return nil, err
	}
	if actual.Valid {
		if sess.ActualCost, err = unmarshalAmount(actual.String); err != nil {
			return nil, err
		}
	}
	sess.Status = session.Status(status)
	if sess.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
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
		base       string
		addOn      string
		rolloverIn string
		used       string
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&rawID, &a.TenantID, &period, &base, &addOn, &rolloverIn,
		&used, &createdAt, &updatedAt)
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
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
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
		createdAt    string
		updatedAt    string
	)
	err := row.Scan(&rawID, &r.TenantID, &sourcePeriod, &ct, &r.AmountRolled,
		&r.AmountUsed, &r.AmountExpired, &validThrough, &status,
		&createdAt, &updatedAt)
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
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
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
		baseCredits string
		status      string
		metadata    string
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(&rawID, &t.Name, &t.Slug, &t.Description, &baseCredits,
		&t.PriceCents, &t.Currency, &status, &metadata, &createdAt, &updatedAt)
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
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
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
	allowOverdraft := 0
	if sub.AllowOverdraft {
		allowOverdraft = 1
	}
	return []any{
		sub.ID.String(), sub.TenantID, sub.TierID.String(), string(rawAddOns),
		string(sub.Status), allowOverdraft, overdraft, maxRollover, metadata,
		fmtTime(sub.CreatedAt), fmtTime(sub.UpdatedAt),
	}, nil
}

func scanSubscription(row rowScanner) (*tier.Subscription, error) {
	var (
		sub            tier.Subscription
		rawID          string
		rawTierID      string
		rawAddOns      string
		status         string
		allowOverdraft int
		overdraft      string
		maxRollover    string
		metadata       string
		createdAt      string
		updatedAt      string
	)
	err := row.Scan(&rawID, &sub.TenantID, &rawTierID, &rawAddOns, &status,
		&allowOverdraft, &overdraft, &maxRollover, &metadata,
		&createdAt, &updatedAt)
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
	if err := json.Unmarshal([]byte(rawAddOns), &addOnIDs); err != nil {
		return nil, fmt.Errorf("credits/sqlite: unmarshal addon ids: %w", err)
	}
	for _, raw := range addOnIDs {
		parsed, err := id.Parse(raw)
		if err != nil {
			return nil, err
		}
		sub.AddOnIDs = append(sub.AddOnIDs, parsed)
	}
	sub.Status = tier.SubscriptionStatus(status)
	sub.AllowOverdraft = allowOverdraft != 0
	if sub.OverdraftLimit, err = unmarshalAmount(overdraft); err != nil {
		return nil, err
	}
	if sub.MaxRollover, err = unmarshalAmount(maxRollover); err != nil {
		return nil, err
	}
	if sub.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, err
	}
	if sub.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sub.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &sub, nil
}

func scanAuditReport(row rowScanner) (*audit.Report, error) {
	var (
		r             audit.Report
		rawID         string
		startedAt     string
		finishedAt    string
		discrepancies string
		createdAt     string
		updatedAt     string
	)
	err := row.Scan(&rawID, &startedAt, &finishedAt, &r.TenantsScanned,
		&discrepancies, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if r.ID, err = id.Parse(rawID); err != nil {
		return nil, err
	}
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if r.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(discrepancies), &r.Discrepancies); err != nil {
		return nil, fmt.Errorf("credits/sqlite: unmarshal discrepancies: %w", err)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
