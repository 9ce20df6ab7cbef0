package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// migrations run in order inside one transaction. Statements are idempotent
// so restarts are safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS insured_persons (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		date_of_birth DATE,
		status        TEXT NOT NULL DEFAULT 'active',
		person_type   TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS medications (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		form        TEXT NOT NULL DEFAULT '',
		class       TEXT NOT NULL DEFAULT '',
		ingredients JSONB NOT NULL DEFAULT '[]',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS prescriptions (
		id                TEXT PRIMARY KEY,
		insured_person_id TEXT NOT NULL REFERENCES insured_persons(id),
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS prescription_lines (
		prescription_id TEXT NOT NULL REFERENCES prescriptions(id),
		position        INT NOT NULL,
		medication_id   TEXT NOT NULL,
		quantity        BIGINT NOT NULL CHECK (quantity > 0),
		PRIMARY KEY (prescription_id, position)
	)`,

	`CREATE TABLE IF NOT EXISTS inventory_items (
		medication_id TEXT PRIMARY KEY,
		quantity      BIGINT NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		version       BIGINT NOT NULL DEFAULT 0,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS inventory_lots (
		id            TEXT PRIMARY KEY,
		medication_id TEXT NOT NULL REFERENCES inventory_items(medication_id),
		batch_number  TEXT NOT NULL,
		expiry_date   DATE,
		quantity      BIGINT NOT NULL,
		received_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_inventory_lots_fefo
		ON inventory_lots (medication_id, expiry_date ASC NULLS LAST, received_at ASC, id ASC)`,

	`CREATE TABLE IF NOT EXISTS sales (
		id              TEXT PRIMARY KEY,
		prescription_id TEXT REFERENCES prescriptions(id),
		total           NUMERIC(12,2) NOT NULL,
		patient_share   NUMERIC(12,2) NOT NULL,
		insurer_share   NUMERIC(12,2) NOT NULL,
		user_id         TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// one sale per prescription, enforced at the storage layer
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_sales_prescription
		ON sales (prescription_id) WHERE prescription_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS sale_details (
		sale_id       TEXT NOT NULL REFERENCES sales(id),
		position      INT NOT NULL,
		medication_id TEXT NOT NULL,
		quantity      BIGINT NOT NULL,
		unit_price    NUMERIC(12,2) NOT NULL,
		subtotal      NUMERIC(12,2) NOT NULL,
		PRIMARY KEY (sale_id, position)
	)`,

	`CREATE TABLE IF NOT EXISTS inventory_checks (
		id           TEXT PRIMARY KEY,
		performed_by TEXT NOT NULL,
		performed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed    BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS inventory_check_lines (
		check_id         TEXT NOT NULL REFERENCES inventory_checks(id),
		position         INT NOT NULL,
		medication_id    TEXT NOT NULL,
		counted_quantity BIGINT NOT NULL CHECK (counted_quantity >= 0),
		PRIMARY KEY (check_id, position)
	)`,

	`CREATE TABLE IF NOT EXISTS outbox (
		id             BIGSERIAL PRIMARY KEY,
		aggregate_id   TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		topic          TEXT NOT NULL,
		key            TEXT NOT NULL,
		payload        JSONB NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at   TIMESTAMPTZ,
		retry_count    INT NOT NULL DEFAULT 0,
		last_error     TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_outbox_pending
		ON outbox (created_at) WHERE processed_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS inbox (
		idempotency_key TEXT PRIMARY KEY,
		handler_name    TEXT NOT NULL,
		status          TEXT NOT NULL,
		payload         JSONB,
		result          JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at      TIMESTAMPTZ
	)`,
}

// Migrate applies the schema. Safe to call on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, stmt := range migrations {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	logger.Info("schema migrations applied", zap.Int("count", len(migrations)))
	return nil
}
