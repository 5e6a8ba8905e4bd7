package postgres

import (
	"context"
	"fmt"
)

const schemaLockID int64 = 2026101501

// EnsureSchema creates the receipt tables when missing. Migrations stay with the
// owning platform; this only covers fresh databases and local development.
func (r *ReceiptRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across worker and cli startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS stores (
	id TEXT PRIMARY KEY,
	tax_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	dedup_key TEXT NOT NULL UNIQUE,
	normalized_name TEXT NOT NULL,
	barcode TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS receipts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	access_key CHAR(44) NOT NULL,
	store_id TEXT REFERENCES stores(id),
	store_name TEXT NOT NULL,
	store_tax_id TEXT,
	provider TEXT NOT NULL,
	emitted_at TIMESTAMPTZ NOT NULL,
	subtotal NUMERIC(12,2) NOT NULL,
	total_tax NUMERIC(12,2) NOT NULL,
	total_value NUMERIC(12,2) NOT NULL,
	raw_qr_text BYTEA NOT NULL,
	raw_payload BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT uq_receipts_user_access_key UNIQUE (user_id, access_key)
);

CREATE INDEX IF NOT EXISTS idx_receipts_user_emitted ON receipts(user_id, emitted_at DESC);

CREATE TABLE IF NOT EXISTS receipt_items (
	id TEXT PRIMARY KEY,
	receipt_id TEXT NOT NULL REFERENCES receipts(id) ON DELETE CASCADE,
	product_id TEXT NOT NULL REFERENCES products(id),
	line_number INT NOT NULL,
	description TEXT NOT NULL,
	quantity NUMERIC(12,3) NOT NULL,
	unit_price NUMERIC(12,2) NOT NULL,
	total_price NUMERIC(12,2) NOT NULL,
	tax_value NUMERIC(12,2),
	barcode TEXT,
	UNIQUE (receipt_id, line_number)
);

CREATE INDEX IF NOT EXISTS idx_receipt_items_product ON receipt_items(product_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
