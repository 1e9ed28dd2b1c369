// internal/platform/database/database.go
package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// Schema is applied idempotently on startup. quantity_available carries a
// CHECK constraint as a last line of defence behind the conditional update.
const Schema = `
CREATE TABLE IF NOT EXISTS products (
	id                 UUID PRIMARY KEY,
	name               TEXT NOT NULL,
	category           TEXT NOT NULL,
	name_key           TEXT NOT NULL,
	category_key       TEXT NOT NULL,
	price              NUMERIC(12,2) NOT NULL CHECK (price >= 0),
	quantity_available INTEGER NOT NULL CHECK (quantity_available >= 0),
	tax_rate           NUMERIC(5,2) NOT NULL DEFAULT 0 CHECK (tax_rate >= 0),
	version            INTEGER NOT NULL DEFAULT 1,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS products_name_category_key ON products (name_key, category_key);

CREATE TABLE IF NOT EXISTS stock_operations (
	operation_id UUID PRIMARY KEY,
	fingerprint  BYTEA NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS stock_adjustments (
	seq          BIGSERIAL PRIMARY KEY,
	operation_id UUID,
	product_id   UUID NOT NULL REFERENCES products (id),
	reason       TEXT NOT NULL,
	delta        INTEGER NOT NULL,
	new_quantity INTEGER NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS stock_adjustments_product ON stock_adjustments (product_id, seq);

CREATE TABLE IF NOT EXISTS bills (
	id            UUID PRIMARY KEY,
	operation_id  UUID NOT NULL UNIQUE,
	customer_name TEXT NOT NULL,
	lines         JSONB NOT NULL,
	total         NUMERIC(14,2) NOT NULL,
	tax_total     NUMERIC(14,2) NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	deleted_at    TIMESTAMPTZ
);

ALTER TABLE bills ADD COLUMN IF NOT EXISTS deleted_at TIMESTAMPTZ;

CREATE INDEX IF NOT EXISTS bills_created_at ON bills (created_at);
`

// Open connects to Postgres, verifies the connection and applies Schema.
func Open(ctx context.Context, url string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// TestURL builds a connection string from the PG* environment variables used
// by the Postgres-backed tests.
func TestURL() string {
	get := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		get("PGHOST", "localhost"), get("PGPORT", "5432"), get("PGUSER", "user"),
		get("PGPASSWORD", "password"), get("PGDATABASE", "testdb"))
}
