package postgres

// migrations is the PostgreSQL schema, one statement per entry. Migrate runs
// them in order; every statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS credit_transactions (
		id              TEXT PRIMARY KEY,
		tenant_id       TEXT NOT NULL,
		type            TEXT NOT NULL,
		kind            TEXT NOT NULL,
		debit_amount    BIGINT NOT NULL DEFAULT 0,
		credit_amount   BIGINT NOT NULL DEFAULT 0,
		balance_after   BIGINT NOT NULL DEFAULT 0,
		sequence        BIGINT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'completed',
		idempotency_key TEXT,
		reference       TEXT NOT NULL DEFAULT '',
		parent_id       TEXT,
		detail          JSONB,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_txns_idem
		ON credit_transactions (idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_txns_seq
		ON credit_transactions (tenant_id, type, sequence)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_txns_parent
		ON credit_transactions (parent_id) WHERE parent_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_credit_txns_tenant
		ON credit_transactions (tenant_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS credit_balances (
		tenant_id  TEXT NOT NULL,
		type       TEXT NOT NULL,
		balance    BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, type)
	)`,

	`CREATE TABLE IF NOT EXISTS credit_sessions (
		id             TEXT PRIMARY KEY,
		tenant_id      TEXT NOT NULL,
		operation_type TEXT NOT NULL DEFAULT '',
		estimated_cost JSONB NOT NULL DEFAULT '{}',
		actual_cost    JSONB,
		status         TEXT NOT NULL DEFAULT 'reserved',
		expires_at     TIMESTAMPTZ NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_sessions_tenant
		ON credit_sessions (tenant_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_sessions_expiry
		ON credit_sessions (status, expires_at)`,

	`CREATE TABLE IF NOT EXISTS credit_allocations (
		id          TEXT PRIMARY KEY,
		tenant_id   TEXT NOT NULL,
		period      TEXT NOT NULL,
		base        JSONB NOT NULL DEFAULT '{}',
		addon       JSONB NOT NULL DEFAULT '{}',
		rollover_in JSONB NOT NULL DEFAULT '{}',
		used        JSONB NOT NULL DEFAULT '{}',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		UNIQUE (tenant_id, period)
	)`,

	`CREATE TABLE IF NOT EXISTS credit_rollovers (
		id             TEXT PRIMARY KEY,
		tenant_id      TEXT NOT NULL,
		source_period  TEXT NOT NULL,
		type           TEXT NOT NULL,
		amount_rolled  BIGINT NOT NULL DEFAULT 0,
		amount_used    BIGINT NOT NULL DEFAULT 0,
		amount_expired BIGINT NOT NULL DEFAULT 0,
		valid_through  TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'active',
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_rollovers_tenant
		ON credit_rollovers (tenant_id, status, source_period)`,

	`CREATE TABLE IF NOT EXISTS credit_tiers (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL DEFAULT '',
		slug         TEXT NOT NULL DEFAULT '',
		description  TEXT NOT NULL DEFAULT '',
		base_credits JSONB NOT NULL DEFAULT '{}',
		price_cents  BIGINT NOT NULL DEFAULT 0,
		currency     TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT 'draft',
		metadata     JSONB NOT NULL DEFAULT '{}',
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS credit_addons (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		slug        TEXT NOT NULL DEFAULT '',
		type        TEXT NOT NULL,
		credits     BIGINT NOT NULL DEFAULT 0,
		price_cents BIGINT NOT NULL DEFAULT 0,
		currency    TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'draft',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS credit_subscriptions (
		id              TEXT PRIMARY KEY,
		tenant_id       TEXT NOT NULL,
		tier_id         TEXT NOT NULL,
		addon_ids       JSONB NOT NULL DEFAULT '[]',
		status          TEXT NOT NULL DEFAULT 'active',
		allow_overdraft BOOLEAN NOT NULL DEFAULT FALSE,
		overdraft_limit JSONB NOT NULL DEFAULT '{}',
		max_rollover    JSONB NOT NULL DEFAULT '{}',
		metadata        JSONB NOT NULL DEFAULT '{}',
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_subs_tenant
		ON credit_subscriptions (tenant_id, status)`,

	`CREATE TABLE IF NOT EXISTS credit_audit_reports (
		id              TEXT PRIMARY KEY,
		started_at      TIMESTAMPTZ NOT NULL,
		finished_at     TIMESTAMPTZ NOT NULL,
		tenants_scanned BIGINT NOT NULL DEFAULT 0,
		discrepancies   JSONB NOT NULL DEFAULT '[]',
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
}
