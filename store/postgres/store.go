// Package postgres implements the credits store on PostgreSQL via the pgx
// stdlib driver. This is the backend for multi-node production deployments.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

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

// Store implements store.Store on a PostgreSQL database.
type Store struct {
	db *sql.DB
}

// New wraps an already-open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL at the given DSN.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return New(db), nil
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("credits/postgres: %w: %v", credits.ErrMigrationFailed, err)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
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
			`SELECT 1 FROM credit_transactions WHERE idempotency_key = $1`,
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
			`SELECT status FROM credit_transactions WHERE id = $1 FOR UPDATE`,
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
			`UPDATE credit_transactions SET status = $1, updated_at = $2 WHERE id = $3`,
			string(transaction.StatusReversed), time.Now().UTC(), txn.ParentID.String()); err != nil {
			return err
		}
	}

	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) + 1 FROM credit_transactions
		WHERE tenant_id = $1 AND type = $2`,
		txn.TenantID, string(txn.Type)).Scan(&txn.Sequence); err != nil {
		return err
	}

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO credit_balances (tenant_id, type, balance, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, type) DO UPDATE SET
			balance = credit_balances.balance + EXCLUDED.balance,
			updated_at = EXCLUDED.updated_at
		RETURNING balance`,
		txn.TenantID, string(txn.Type), txn.NetAmount(), time.Now().UTC()).Scan(&txn.BalanceAfter); err != nil {
		return err
	}

	detail, err := transaction.MarshalDetail(txn.Detail)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (`+txnColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		txn.ID.String(), txn.TenantID, string(txn.Type), string(txn.Kind),
		txn.DebitAmount, txn.CreditAmount, txn.BalanceAfter, txn.Sequence,
		string(txn.Status), nullString(txn.IdempotencyKey), txn.Reference,
		nullID(txn.ParentID), detail,
		txn.CreatedAt, txn.UpdatedAt); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM credit_transactions WHERE id = $1`, txnID.String())
	txn, err := scanTxn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrTransactionNotFound
	}
	return txn, err
}

func (s *Store) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*transaction.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM credit_transactions WHERE idempotency_key = $1`, key)
	txn, err := scanTxn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrTransactionNotFound
	}
	return txn, err
}

func (s *Store) GetReversal(ctx context.Context, parentID id.TransactionID) (*transaction.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM credit_transactions WHERE parent_id = $1`, parentID.String())
	txn, err := scanTxn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrTransactionNotFound
	}
	return txn, err
}

func (s *Store) ListTransactions(ctx context.Context, tenantID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}

	addFilter := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if opts.Type != "" {
		addFilter("type = $%d", string(opts.Type))
	}
	if opts.Kind != "" {
		addFilter("kind = $%d", string(opts.Kind))
	}
	if opts.Status != "" {
		addFilter("status = $%d", string(opts.Status))
	}
	if !opts.Since.IsZero() {
		addFilter("created_at >= $%d", opts.Since)
	}
	if !opts.Until.IsZero() {
		addFilter("created_at < $%d", opts.Until)
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
		FROM credit_transactions WHERE tenant_id = $1 AND type = $2`,
		tenantID, string(ct)).Scan(&sum)
	return sum, err
}

// ==================== Balance Store ====================

func (s *Store) GetCachedBalance(ctx context.Context, tenantID string, ct types.CreditType) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM credit_balances WHERE tenant_id = $1 AND type = $2`,
		tenantID, string(ct)).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (s *Store) SetCachedBalance(ctx context.Context, tenantID string, ct types.CreditType, balance int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_balances (tenant_id, type, balance, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, type) DO UPDATE SET
			balance = EXCLUDED.balance,
			updated_at = EXCLUDED.updated_at`,
		tenantID, string(ct), balance, time.Now().UTC())
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
		VALUES ($1, $2, $3, $4, NULL, $5, $6, $7, $8)`,
		sess.ID.String(), sess.TenantID, sess.OperationType, estimated,
		string(sess.Status), sess.ExpiresAt, sess.CreatedAt, sess.UpdatedAt)
	return err
}

func (s *Store) GetSession(ctx context.Context, sessionID id.SessionID) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM credit_sessions WHERE id = $1`, sessionID.String())
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
		SET status = $1, actual_cost = COALESCE($2, actual_cost), updated_at = $3
		WHERE id = $4 AND status = $5`,
		string(to), actualJSON, time.Now().UTC(), sessionID.String(), string(from))
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
	var sum int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(COALESCE((estimated_cost->>$2)::BIGINT, 0)), 0)
		FROM credit_sessions WHERE tenant_id = $1 AND status = $3`,
		tenantID, string(ct), string(session.StatusReserved)).Scan(&sum)
	return sum, err
}

func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM credit_sessions
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at ASC`+limitClause(limit, 0),
		string(session.StatusReserved), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *Store) ListSessions(ctx context.Context, tenantID string, opts session.ListOpts) ([]*session.Session, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}

	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.OperationType != "" {
		args = append(args, opts.OperationType)
		where = append(where, fmt.Sprintf("operation_type = $%d", len(args)))
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID.String(), a.TenantID, string(a.Period), base, addOn, rolloverIn,
		used, a.CreatedAt, a.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return credits.ErrAllocationExists
	}
	return err
}

func (s *Store) GetAllocation(ctx context.Context, tenantID string, period allocation.Period) (*allocation.MonthlyAllocation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+allocationColumns+` FROM credit_allocations
		WHERE tenant_id = $1 AND period = $2`, tenantID, string(period))
	a, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrAllocationNotFound
	}
	return a, err
}

func (s *Store) IncrementAllocationUsed(ctx context.Context, tenantID string, period allocation.Period, ct types.CreditType, n int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_allocations
		SET used = jsonb_set(used, ARRAY[$3],
			to_jsonb(COALESCE((used->>$3)::BIGINT, 0) + $4), true),
		    updated_at = $5
		WHERE tenant_id = $1 AND period = $2`,
		tenantID, string(period), string(ct), n, time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return credits.ErrAllocationNotFound
	}
	return nil
}

func (s *Store) ListAllocations(ctx context.Context, tenantID string, opts allocation.ListOpts) ([]*allocation.MonthlyAllocation, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}

	if opts.Since != "" {
		args = append(args, string(opts.Since))
		where = append(where, fmt.Sprintf("period >= $%d", len(args)))
	}
	if opts.Until != "" {
		args = append(args, string(opts.Until))
		where = append(where, fmt.Sprintf("period <= $%d", len(args)))
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID.String(), r.TenantID, string(r.SourcePeriod), string(r.Type),
		r.AmountRolled, r.AmountUsed, r.AmountExpired, string(r.ValidThrough),
		string(r.Status), r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *Store) GetRollover(ctx context.Context, rolloverID id.RolloverID) (*rollover.Rollover, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rolloverColumns+` FROM credit_rollovers WHERE id = $1`, rolloverID.String())
	r, err := scanRollover(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrRolloverNotFound
	}
	return r, err
}

func (s *Store) ListActiveRollovers(ctx context.Context, tenantID string) ([]*rollover.Rollover, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rolloverColumns+` FROM credit_rollovers
		WHERE tenant_id = $1 AND status = $2
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
		UPDATE credit_rollovers SET amount_used = amount_used + $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		n, time.Now().UTC(), rolloverID.String(), string(rollover.StatusActive))
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
	row := s.db.QueryRowContext(ctx, `
		UPDATE credit_rollovers
		SET amount_expired = amount_rolled - amount_used - amount_expired,
		    status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING `+rolloverColumns,
		string(rollover.StatusExpired), time.Now().UTC(),
		rolloverID.String(), string(rollover.StatusActive))
	r, err := scanRollover(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetRollover(ctx, rolloverID); getErr != nil {
			return nil, getErr
		}
		return nil, credits.ErrRolloverNotActive
	}
	return r, err
}

func (s *Store) ListRollovers(ctx context.Context, tenantID string, opts rollover.ListOpts) ([]*rollover.Rollover, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}

	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.Type != "" {
		args = append(args, string(opts.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if opts.SourcePeriod != "" {
		args = append(args, string(opts.SourcePeriod))
		where = append(where, fmt.Sprintf("source_period = $%d", len(args)))
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID.String(), t.Name, t.Slug, t.Description, baseCredits,
		t.PriceCents, t.Currency, string(t.Status), metadata,
		t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *Store) GetTier(ctx context.Context, tierID id.TierID) (*tier.Tier, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, description, base_credits, price_cents,
			currency, status, metadata, created_at, updated_at
		FROM credit_tiers WHERE id = $1`, tierID.String())
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
		query += ` WHERE status = $1`
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID.String(), a.Name, a.Slug, string(a.Type), a.Credits,
		a.PriceCents, a.Currency, string(a.Status), a.CreatedAt, a.UpdatedAt)
	return err
}

func (s *Store) GetAddOn(ctx context.Context, addOnID id.AddOnID) (*tier.AddOn, error) {
	a := &tier.AddOn{}
	var ct, status, rawID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, type, credits, price_cents, currency, status,
			created_at, updated_at
		FROM credit_addons WHERE id = $1`, addOnID.String()).Scan(
		&rawID, &a.Name, &a.Slug, &ct, &a.Credits, &a.PriceCents,
		&a.Currency, &status, &a.CreatedAt, &a.UpdatedAt)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, args...)
	return err
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *tier.Subscription) error {
	args, err := subscriptionArgs(sub)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_subscriptions SET tenant_id = $2, tier_id = $3,
			addon_ids = $4, status = $5, allow_overdraft = $6,
			overdraft_limit = $7, max_rollover = $8, metadata = $9,
			created_at = $10, updated_at = $11
		WHERE id = $1`, args...)
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
		`SELECT `+subscriptionColumns+` FROM credit_subscriptions WHERE id = $1`,
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
		WHERE tenant_id = $1 AND status = $2 LIMIT 1`,
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
		WHERE status = $1 ORDER BY tenant_id ASC`,
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
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			tenants_scanned = EXCLUDED.tenants_scanned,
			discrepancies = EXCLUDED.discrepancies,
			updated_at = EXCLUDED.updated_at`,
		r.ID.String(), r.StartedAt, r.FinishedAt, r.TenantsScanned,
		discrepancies, r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *Store) GetAuditReport(ctx context.Context, runID id.AuditRunID) (*audit.Report, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, tenants_scanned, discrepancies,
			created_at, updated_at
		FROM credit_audit_reports WHERE id = $1`, runID.String())
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
		query += ` WHERE jsonb_array_length(discrepancies) > 0`
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
