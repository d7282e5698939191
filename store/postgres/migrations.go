package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is a single versioned schema change. Up and Down are plain SQL;
// applied versions are tracked in the loyalty_migrations table.
type Migration struct {
	Name    string
	Version string
	Up      string
	Down    string
}

// Migrations lists the schema changes for the loyalty store, oldest first.
var Migrations = []Migration{
	{
		Name:    "create_loyalty_pools",
		Version: "20240101000001",
		Up: `
CREATE TABLE IF NOT EXISTS loyalty_pools (
    id          TEXT PRIMARY KEY,
    merchant_id TEXT NOT NULL,
    balance     BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_loyalty_pools_merchant ON loyalty_pools (merchant_id);
`,
		Down: `DROP TABLE IF EXISTS loyalty_pools`,
	},
	{
		Name:    "create_loyalty_accounts",
		Version: "20240101000002",
		Up: `
CREATE TABLE IF NOT EXISTS loyalty_accounts (
    id           TEXT PRIMARY KEY,
    merchant_id  TEXT NOT NULL,
    customer_uid TEXT NOT NULL,
    balance      BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_loyalty_accounts_merchant_uid ON loyalty_accounts (merchant_id, customer_uid);
CREATE INDEX IF NOT EXISTS idx_loyalty_accounts_uid ON loyalty_accounts (customer_uid);
`,
		Down: `DROP TABLE IF EXISTS loyalty_accounts`,
	},
	{
		Name:    "create_loyalty_entries",
		Version: "20240101000003",
		Up: `
CREATE TABLE IF NOT EXISTS loyalty_entries (
    id               TEXT PRIMARY KEY,
    merchant_id      TEXT NOT NULL,
    customer_uid     TEXT NOT NULL,
    direction        TEXT NOT NULL,
    transaction_type TEXT NOT NULL DEFAULT '',
    title            TEXT NOT NULL DEFAULT '',
    narration        TEXT NOT NULL DEFAULT '',
    reference_id     TEXT NOT NULL,
    amount           BIGINT NOT NULL,
    balance_before   BIGINT NOT NULL,
    balance_after    BIGINT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'successful',
    order_id         TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_loyalty_entries_reference ON loyalty_entries (merchant_id, reference_id);
CREATE INDEX IF NOT EXISTS idx_loyalty_entries_customer ON loyalty_entries (merchant_id, customer_uid, created_at DESC);
`,
		Down: `DROP TABLE IF EXISTS loyalty_entries`,
	},
	{
		Name:    "create_loyalty_webhook_endpoints",
		Version: "20240101000004",
		Up: `
CREATE TABLE IF NOT EXISTS loyalty_webhook_endpoints (
    merchant_id TEXT PRIMARY KEY,
    url         TEXT NOT NULL,
    secret      TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
		Down: `DROP TABLE IF EXISTS loyalty_webhook_endpoints`,
	},
}

// runMigrations applies every migration whose version is not yet recorded.
// Each migration runs in its own transaction together with its version row.
func runMigrations(ctx context.Context, db *sql.DB, migrations []Migration) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS loyalty_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("loyalty/postgres: create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM loyalty_migrations`)
	if err != nil {
		return fmt.Errorf("loyalty/postgres: read applied migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("loyalty/postgres: migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO loyalty_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
		return err
	}
	return tx.Commit()
}
