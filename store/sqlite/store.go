// Package sqlite implements the credits store on SQLite via database/sql
// and the modernc.org/sqlite driver. Suitable for single-node deployments
// and durable local testing.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

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

// Store implements store.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

// New wraps an already-open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens a SQLite database at the given DSN. SQLite allows one writer,
// so the pool is capped at a single connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)
	return New(db), nil
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("credits/sqlite: %w: %v", credits.ErrMigrationFailed, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Transaction Store ====================

const txnColumns = `id, tenant_id, type, kind, debit_amount, credit_amount,
	balance_after, sequence, status, idempotency_key, reference, parent_id,
	detail, created_at, updated_at`

func (s *Store) AppendTransaction(ctx context.Context, txn *transaction.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if txn.IdempotencyKey != "" {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM credit_transactions WHERE idempotency_key = ?`,
			txn.IdempotencyKey).Scan(&one)
		if err == nil {
			return credits.ErrDuplicateIdempotencyKey
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}

	if txn.IsReversal() {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM credit_transactions WHERE id = ?`,
			txn.ParentID.String()).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return credits.ErrTransactionNotFound
		}
		if err != nil {
			return err
		}
		if status == string(transaction.StatusReversed) {
			return credits.ErrAlreadyReversed
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE credit_transactions SET status = ?, updated_at = ? WHERE id = ?`,
			string(transaction.StatusReversed), fmtTime(time.Now()), txn.ParentID.String()); err != nil {
			return err
		}
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM credit_transactions WHERE tenant_id = ? AND type = ?`,
		txn.TenantID, string(txn.Type)).Scan(&txn.Sequence); err != nil {
		return err
	}

	net := txn.NetAmount()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_balances (tenant_id, type, balance, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, type) DO UPDATE SET
			balance = balance + excluded.balance,
			updated_at = excluded.updated_at`,
		txn.TenantID, string(txn.Type), net, fmtTime(time.Now())); err != nil {
		return err
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT balance FROM credit_balances WHERE tenant_id = ? AND type = ?`,
		txn.TenantID, string(txn.Type)).Scan(&txn.BalanceAfter); err != nil {
		return err
	}

	detail, err := transaction.MarshalDetail(txn.Detail)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (`+txnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID.String(), txn.TenantID, string(txn.Type), string(txn.Kind),
		txn.DebitAmount, txn.CreditAmount, txn.BalanceAfter, txn.Sequence,
		string(txn.Status), nullString(txn.IdempotencyKey), txn.Reference,
		nullID(txn.ParentID), detail,
		fmtTime(txn.CreatedAt), fmtTime(txn.UpdatedAt)); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM credit_transactions WHERE id = ?`, txnID.String())
	txn, err := scanTxn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrTransactionNotFound
	}
	return txn, err
}

func (s *Store) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*transaction.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM credit_transactions WHERE idempotency_key = ?`, key)
	txn, err := scanTxn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrTransactionNotFound
	}
	return txn, err
}

func (s *Store) GetReversal(ctx context.Context, parentID id.TransactionID) (*transaction.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM credit_transactions WHERE parent_id = ?`, parentID.String())
	txn, err := scanTxn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrTransactionNotFound
	}
	return txn, err
}

func (s *Store) ListTransactions(ctx context.Context, tenantID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}

	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(opts.Type))
	}
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(opts.Kind))
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if !opts.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, fmtTime(opts.Since))
	}
	if !opts.Until.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, fmtTime(opts.Until))
	}

	query := `SELECT ` + txnColumns + ` FROM credit_transactions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at ASC, sequence ASC` +
		limitClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*transaction.Transaction, 0)
	for rows.Next() {
		txn, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, txn)
	}
	return result, rows.Err()
}

func (s *Store) SumTransactions(ctx context.Context, tenantID string, ct types.CreditType) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(credit_amount - debit_amount), 0)
		FROM credit_transactions WHERE tenant_id = ? AND type = ?`,
		tenantID, string(ct)).Scan(&sum)
	return sum, err
}

// ==================== Balance Store ====================

func (s *Store) GetCachedBalance(ctx context.Context, tenantID string, ct types.CreditType) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM credit_balances WHERE tenant_id = ? AND type = ?`,
		tenantID, string(ct)).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (s *Store) SetCachedBalance(ctx context.Context, tenantID string, ct types.CreditType, balance int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_balances (tenant_id, type, balance, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, type) DO UPDATE SET
			balance = excluded.balance,
			updated_at = excluded.updated_at`,
		tenantID, string(ct), balance, fmtTime(time.Now()))
	return err
}

func (s *Store) ListBalanceKeys(ctx context.Context) ([]creditstore.BalanceKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, type FROM credit_balances ORDER BY tenant_id, type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]creditstore.BalanceKey, 0)
	for rows.Next() {
		var k creditstore.BalanceKey
		var ct string
		if err := rows.Scan(&k.TenantID, &ct); err != nil {
			return nil, err
		}
		k.Type = types.CreditType(ct)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ==================== Session Store ====================

const sessionColumns = `id, tenant_id, operation_type, estimated_cost,
	actual_cost, status, expires_at, created_at, updated_at`

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	estimated, err := marshalAmount(sess.EstimatedCost)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credit_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, NULL, ?, ?, ?, ?)`,
		sess.ID.String(), sess.TenantID, sess.OperationType, estimated,
		string(sess.Status), fmtTime(sess.ExpiresAt),
		fmtTime(sess.CreatedAt), fmtTime(sess.UpdatedAt))
	return err
}

func (s *Store) GetSession(ctx context.Context, sessionID id.SessionID) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM credit_sessions WHERE id = ?`, sessionID.String())
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrSessionNotFound
	}
	return sess, err
}

func (s *Store) TransitionSession(ctx context.Context, sessionID id.SessionID, from, to session.Status, actual types.Amount) error {
	var actualJSON any
	if actual != nil {
		encoded, err := marshalAmount(actual)
		if err != nil {
			return err
		}
		actualJSON = encoded
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_sessions
		SET status = ?, actual_cost = COALESCE(?, actual_cost), updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), actualJSON, fmtTime(time.Now()), sessionID.String(), string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return err
		}
		return credits.ErrAlreadyTerminal
	}
	return nil
}

func (s *Store) SumReserved(ctx context.Context, tenantID string, ct types.CreditType) (int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT estimated_cost FROM credit_sessions WHERE tenant_id = ? AND status = ?`,
		tenantID, string(session.StatusReserved))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var sum int64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return 0, err
		}
		amount, err := unmarshalAmount(raw)
		if err != nil {
			return 0, err
		}
		sum += amount.Get(ct)
	}
	return sum, rows.Err()
}

func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM credit_sessions
		WHERE status = ? AND expires_at <= ?
		ORDER BY expires_at ASC`+limitClause(limit, 0),
		string(session.StatusReserved), fmtTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *Store) ListSessions(ctx context.Context, tenantID string, opts session.ListOpts) ([]*session.Session, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}

	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.OperationType != "" {
		where = append(where, "operation_type = ?")
		args = append(args, opts.OperationType)
	}

	query := `SELECT ` + sessionColumns + ` FROM credit_sessions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at ASC` +
		limitClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ==================== Allocation Store ====================

const allocationColumns = `id, tenant_id, period, base, addon, rollover_in,
	used, created_at, updated_at`

func (s *Store) CreateAllocation(ctx context.Context, a *allocation.MonthlyAllocation) error {
	base, err := marshalAmount(a.Base)
	if err != nil {
		return err
	}
	addOn, err := marshalAmount(a.AddOn)
	if err != nil {
		return err
	}
	rolloverIn, err := marshalAmount(a.RolloverIn)
	if err != nil {
		return err
	}
	used, err := marshalAmount(a.Used)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credit_allocations (`+allocationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.TenantID, string(a.Period), base, addOn, rolloverIn,
		used, fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt))
	if err != nil && isUniqueViolation(err) {
		return credits.ErrAllocationExists
	}
	return err
}

func (s *Store) GetAllocation(ctx context.Context, tenantID string, period allocation.Period) (*allocation.MonthlyAllocation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+allocationColumns+` FROM credit_allocations
		WHERE tenant_id = ? AND period = ?`, tenantID, string(period))
	a, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrAllocationNotFound
	}
	return a, err
}

func (s *Store) IncrementAllocationUsed(ctx context.Context, tenantID string, period allocation.Period, ct types.CreditType, n int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT used FROM credit_allocations WHERE tenant_id = ? AND period = ?`,
		tenantID, string(period)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return credits.ErrAllocationNotFound
	}
	if err != nil {
		return err
	}

	used, err := unmarshalAmount(raw)
	if err != nil {
		return err
	}
	updated, err := marshalAmount(used.Add(types.Of(ct, n)))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_allocations SET used = ?, updated_at = ?
		WHERE tenant_id = ? AND period = ?`,
		updated, fmtTime(time.Now()), tenantID, string(period)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListAllocations(ctx context.Context, tenantID string, opts allocation.ListOpts) ([]*allocation.MonthlyAllocation, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}

	if opts.Since != "" {
		where = append(where, "period >= ?")
		args = append(args, string(opts.Since))
	}
	if opts.Until != "" {
		where = append(where, "period <= ?")
		args = append(args, string(opts.Until))
	}

	query := `SELECT ` + allocationColumns + ` FROM credit_allocations WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY period ASC` +
		limitClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*allocation.MonthlyAllocation, 0)
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// ==================== Rollover Store ====================

const rolloverColumns = `id, tenant_id, source_period, type, amount_rolled,
	amount_used, amount_expired, valid_through, status, created_at, updated_at`

func (s *Store) CreateRollover(ctx context.Context, r *rollover.Rollover) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_rollovers (`+rolloverColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.TenantID, string(r.SourcePeriod), string(r.Type),
		r.AmountRolled, r.AmountUsed, r.AmountExpired, string(r.ValidThrough),
		string(r.Status), fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt))
	return err
}

func (s *Store) GetRollover(ctx context.Context, rolloverID id.RolloverID) (*rollover.Rollover, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rolloverColumns+` FROM credit_rollovers WHERE id = ?`, rolloverID.String())
	r, err := scanRollover(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrRolloverNotFound
	}
	return r, err
}

func (s *Store) ListActiveRollovers(ctx context.Context, tenantID string) ([]*rollover.Rollover, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rolloverColumns+` FROM credit_rollovers
		WHERE tenant_id = ? AND status = ?
		ORDER BY source_period ASC, id ASC`,
		tenantID, string(rollover.StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRollovers(rows)
}

func (s *Store) AddRolloverUsage(ctx context.Context, rolloverID id.RolloverID, n int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_rollovers SET amount_used = amount_used + ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		n, fmtTime(time.Now()), rolloverID.String(), string(rollover.StatusActive))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.GetRollover(ctx, rolloverID); err != nil {
			return err
		}
		return credits.ErrRolloverNotActive
	}
	return nil
}

func (s *Store) MarkRolloverExpired(ctx context.Context, rolloverID id.RolloverID) (*rollover.Rollover, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_rollovers
		SET amount_expired = amount_rolled - amount_used - amount_expired,
		    status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(rollover.StatusExpired), fmtTime(time.Now()),
		rolloverID.String(), string(rollover.StatusActive))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.GetRollover(ctx, rolloverID); err != nil {
			return nil, err
		}
		return nil, credits.ErrRolloverNotActive
	}
	return s.GetRollover(ctx, rolloverID)
}

func (s *Store) ListRollovers(ctx context.Context, tenantID string, opts rollover.ListOpts) ([]*rollover.Rollover, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}

	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(opts.Type))
	}
	if opts.SourcePeriod != "" {
		where = append(where, "source_period = ?")
		args = append(args, string(opts.SourcePeriod))
	}

	query := `SELECT ` + rolloverColumns + ` FROM credit_rollovers WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY source_period ASC, id ASC` +
		limitClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRollovers(rows)
}

// ==================== Tier Store ====================

func (s *Store) CreateTier(ctx context.Context, t *tier.Tier) error {
	baseCredits, err := marshalAmount(t.BaseCredits)
	if err != nil {
		return err
	}
	metadata, err := marshalMetadata(t.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credit_tiers (id, name, slug, description, base_credits,
			price_cents, currency, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.Name, t.Slug, t.Description, baseCredits,
		t.PriceCents, t.Currency, string(t.Status), metadata,
		fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
	return err
}

func (s *Store) GetTier(ctx context.Context, tierID id.TierID) (*tier.Tier, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, description, base_credits, price_cents,
			currency, status, metadata, created_at, updated_at
		FROM credit_tiers WHERE id = ?`, tierID.String())
	t, err := scanTier(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrTierNotFound
	}
	return t, err
}

func (s *Store) ListTiers(ctx context.Context, opts tier.ListOpts) ([]*tier.Tier, error) {
	query := `SELECT id, name, slug, description, base_credits, price_cents,
		currency, status, metadata, created_at, updated_at FROM credit_tiers`
	args := []any{}
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at ASC` + limitClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*tier.Tier, 0)
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) CreateAddOn(ctx context.Context, a *tier.AddOn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_addons (id, name, slug, type, credits, price_cents,
			currency, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.Name, a.Slug, string(a.Type), a.Credits,
		a.PriceCents, a.Currency, string(a.Status),
		fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt))
	return err
}

func (s *Store) GetAddOn(ctx context.Context, addOnID id.AddOnID) (*tier.AddOn, error) {
	a := &tier.AddOn{}
	var ct, status, createdAt, updatedAt string
	var rawID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, type, credits, price_cents, currency, status,
			created_at, updated_at
		FROM credit_addons WHERE id = ?`, addOnID.String()).Scan(
		&rawID, &a.Name, &a.Slug, &ct, &a.Credits, &a.PriceCents,
		&a.Currency, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrAddOnNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.ID, err = id.Parse(rawID); err != nil {
		return nil, err
	}
	a.Type = types.CreditType(ct)
	a.Status = tier.Status(status)
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return a, nil
}

const subscriptionColumns = `id, tenant_id, tier_id, addon_ids, status,
	allow_overdraft, overdraft_limit, max_rollover, metadata, created_at,
	updated_at`

func (s *Store) CreateSubscription(ctx context.Context, sub *tier.Subscription) error {
	args, err := subscriptionArgs(sub)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credit_subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	return err
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *tier.Subscription) error {
	args, err := subscriptionArgs(sub)
	if err != nil {
		return err
	}
	// Move id to the end for the WHERE clause.
	args = append(args[1:], args[0])
	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_subscriptions SET tenant_id = ?, tier_id = ?,
			addon_ids = ?, status = ?, allow_overdraft = ?,
			overdraft_limit = ?, max_rollover = ?, metadata = ?,
			created_at = ?, updated_at = ?
		WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return credits.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*tier.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM credit_subscriptions WHERE id = ?`,
		subID.String())
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrSubscriptionNotFound
	}
	return sub, err
}

func (s *Store) GetTenantSubscription(ctx context.Context, tenantID string) (*tier.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM credit_subscriptions
		WHERE tenant_id = ? AND status = ? LIMIT 1`,
		tenantID, string(tier.SubscriptionActive))
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrSubscriptionNotFound
	}
	return sub, err
}

func (s *Store) ListActiveTenantSubscriptions(ctx context.Context) ([]*tier.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM credit_subscriptions
		WHERE status = ? ORDER BY tenant_id ASC`,
		string(tier.SubscriptionActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*tier.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

// ==================== Audit Store ====================

func (s *Store) SaveAuditReport(ctx context.Context, r *audit.Report) error {
	discrepancies, err := json.Marshal(r.Discrepancies)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credit_audit_reports (id, started_at, finished_at,
			tenants_scanned, discrepancies, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = excluded.finished_at,
			tenants_scanned = excluded.tenants_scanned,
			discrepancies = excluded.discrepancies,
			updated_at = excluded.updated_at`,
		r.ID.String(), fmtTime(r.StartedAt), fmtTime(r.FinishedAt),
		r.TenantsScanned, string(discrepancies),
		fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt))
	return err
}

func (s *Store) GetAuditReport(ctx context.Context, runID id.AuditRunID) (*audit.Report, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, tenants_scanned, discrepancies,
			created_at, updated_at
		FROM credit_audit_reports WHERE id = ?`, runID.String())
	r, err := scanAuditReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrAuditReportNotFound
	}
	return r, err
}

func (s *Store) ListAuditReports(ctx context.Context, opts audit.ListOpts) ([]*audit.Report, error) {
	query := `SELECT id, started_at, finished_at, tenants_scanned,
		discrepancies, created_at, updated_at FROM credit_audit_reports`
	if opts.OnlyDirty {
		query += ` WHERE discrepancies != '[]' AND discrepancies != 'null'`
	}
	query += ` ORDER BY started_at DESC` + limitClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*audit.Report, 0)
	for rows.Next() {
		r, err := scanAuditReport(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
