package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the herald store (SQLite).
var Migrations = migrate.NewGroup("herald")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_herald_endpoints",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS herald_endpoints (
    id                 TEXT PRIMARY KEY,
    tenant_id          TEXT NOT NULL,
    name               TEXT NOT NULL DEFAULT '',
    url                TEXT NOT NULL,
    secret             TEXT NOT NULL,
    event_types        TEXT NOT NULL DEFAULT '[]',
    active             INTEGER NOT NULL DEFAULT 1,
    max_retries        INTEGER NOT NULL DEFAULT 3,
    base_delay_ms      INTEGER NOT NULL DEFAULT 1000,
    backoff_multiplier REAL NOT NULL DEFAULT 2,
    timeout_ms         INTEGER NOT NULL DEFAULT 30000,
    headers            TEXT NOT NULL DEFAULT '[]',
    success_count      INTEGER NOT NULL DEFAULT 0,
    failure_count      INTEGER NOT NULL DEFAULT 0,
    last_error         TEXT NOT NULL DEFAULT '',
    deleted_at         TEXT,
    created_at         TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at         TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_herald_endpoints_tenant ON herald_endpoints (tenant_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS herald_endpoints`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_herald_deliveries",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS herald_deliveries (
    id            TEXT PRIMARY KEY,
    tenant_id     TEXT NOT NULL,
    endpoint_id   TEXT NOT NULL,
    event_type    TEXT NOT NULL,
    event_id      TEXT NOT NULL UNIQUE,
    payload       TEXT NOT NULL,
    signature     TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending',
    attempts      TEXT NOT NULL DEFAULT '[]',
    next_retry_at TEXT,
    delivered_at  TEXT,
    claim_token   TEXT NOT NULL DEFAULT '',
    lease_until   TEXT,
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_herald_deliveries_due ON herald_deliveries (status, next_retry_at);
CREATE INDEX IF NOT EXISTS idx_herald_deliveries_tenant ON herald_deliveries (tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_herald_deliveries_endpoint ON herald_deliveries (endpoint_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS herald_deliveries`)
				return err
			},
		},
	)
}
