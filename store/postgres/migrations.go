package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the herald store.
// It can be registered with the grove extension for orchestrated migration
// management (locking, version tracking, rollback support).
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
    event_types        TEXT[] NOT NULL DEFAULT '{}',
    active             BOOLEAN NOT NULL DEFAULT TRUE,
    max_retries        INT NOT NULL DEFAULT 3,
    base_delay_ms      BIGINT NOT NULL DEFAULT 1000,
    backoff_multiplier DOUBLE PRECISION NOT NULL DEFAULT 2,
    timeout_ms         BIGINT NOT NULL DEFAULT 30000,
    headers            JSONB NOT NULL DEFAULT '[]',
    success_count      BIGINT NOT NULL DEFAULT 0,
    failure_count      BIGINT NOT NULL DEFAULT 0,
    last_error         TEXT NOT NULL DEFAULT '',
    deleted_at         TIMESTAMPTZ,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_herald_endpoints_tenant ON herald_endpoints (tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_herald_endpoints_event_types ON herald_endpoints USING GIN (event_types);
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
    attempts      JSONB NOT NULL DEFAULT '[]',
    next_retry_at TIMESTAMPTZ,
    delivered_at  TIMESTAMPTZ,
    claim_token   TEXT NOT NULL DEFAULT '',
    lease_until   TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_herald_deliveries_due ON herald_deliveries (next_retry_at) WHERE status IN ('pending', 'retrying');
CREATE INDEX IF NOT EXISTS idx_herald_deliveries_tenant ON herald_deliveries (tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_herald_deliveries_endpoint ON herald_deliveries (endpoint_id);
CREATE INDEX IF NOT EXISTS idx_herald_deliveries_terminal ON herald_deliveries (updated_at) WHERE status IN ('delivered', 'failed');
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
