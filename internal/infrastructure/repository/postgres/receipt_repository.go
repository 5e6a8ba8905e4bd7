package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/ports"
)

const defaultTxTimeout = 10 * time.Second

type ReceiptRepository struct {
	db        *sql.DB
	txTimeout time.Duration
}

func NewReceiptRepository(db *sql.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db, txTimeout: defaultTxTimeout}
}

// RunInTx runs fn in one transaction; any error from fn rolls everything back.
func (r *ReceiptRepository) RunInTx(ctx context.Context, fn func(tx ports.ReceiptWriter) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && r.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.txTimeout)
		defer cancel()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin receipt tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&receiptWriter{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit receipt tx: %w", err)
	}
	return nil
}

// FindReceiptID returns "" when the user has no receipt for key.
func (r *ReceiptRepository) FindReceiptID(ctx context.Context, userID string, key domain.AccessKey) (string, error) {
	return findReceiptID(ctx, r.db, userID, key)
}

func findReceiptID(ctx context.Context, q queryer, userID string, key domain.AccessKey) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `
SELECT id FROM receipts
WHERE user_id = $1 AND access_key = $2
`, userID, key.String()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find receipt id: %w", err)
	}
	return id, nil
}

func (r *ReceiptRepository) GetReceipt(ctx context.Context, userID, receiptID string) (*domain.Receipt, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, access_key, store_id, store_name, store_tax_id, provider, emitted_at,
	subtotal, total_tax, total_value, raw_qr_text, raw_payload, created_at
FROM receipts
WHERE id = $1 AND user_id = $2
`, receiptID, userID)

	var (
		rec        domain.Receipt
		accessKey  string
		provider   string
		storeID    sql.NullString
		storeTaxID sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &accessKey, &storeID, &rec.StoreName, &storeTaxID, &provider, &rec.EmittedAt,
		&rec.Subtotal, &rec.TotalTax, &rec.TotalValue, &rec.RawScan, &rec.RawPayload, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrReceiptNotFound, "get receipt", fmt.Errorf("id=%s", receiptID))
		}
		return nil, fmt.Errorf("scan receipt: %w", err)
	}
	rec.AccessKey = domain.AccessKey(accessKey)
	rec.Provider = domain.ProviderID(provider)
	rec.StoreTaxID = storeTaxID.String
	if storeID.Valid {
		rec.StoreID = &storeID.String
	}

	items, err := r.listItems(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	rec.Items = items
	return &rec, nil
}

func (r *ReceiptRepository) listItems(ctx context.Context, receiptID string) ([]domain.ReceiptItem, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, receipt_id, product_id, line_number, description, quantity, unit_price, total_price, tax_value, barcode
FROM receipt_items
WHERE receipt_id = $1
ORDER BY line_number
`, receiptID)
	if err != nil {
		return nil, fmt.Errorf("query receipt items: %w", err)
	}
	defer rows.Close()

	var items []domain.ReceiptItem
	for rows.Next() {
		var (
			item    domain.ReceiptItem
			tax     decimal.NullDecimal
			barcode sql.NullString
		)
		if err := rows.Scan(
			&item.ID, &item.ReceiptID, &item.ProductID, &item.LineNumber, &item.Description,
			&item.Quantity, &item.UnitPrice, &item.TotalPrice, &tax, &barcode,
		); err != nil {
			return nil, fmt.Errorf("scan receipt item: %w", err)
		}
		if tax.Valid {
			v := tax.Decimal
			item.TaxValue = &v
		}
		if barcode.Valid {
			v := barcode.String
			item.Barcode = &v
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipt items: %w", err)
	}
	return items, nil
}

// receiptWriter joins every write to the surrounding transaction.
type receiptWriter struct {
	q queryer
}

func (w *receiptWriter) UpsertStore(ctx context.Context, store *domain.Store) (string, error) {
	if store.ID == "" {
		store.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	var id string
	err := w.q.QueryRowContext(ctx, `
INSERT INTO stores (id, tax_id, name, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (tax_id) DO UPDATE SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at
RETURNING id
`, store.ID, store.TaxID, store.Name, now).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert store: %w", err)
	}
	store.ID = id
	return id, nil
}

func (w *receiptWriter) UpsertProduct(ctx context.Context, product *domain.Product) (string, error) {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	var id string
	err := w.q.QueryRowContext(ctx, `
INSERT INTO products (id, dedup_key, normalized_name, barcode, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (dedup_key) DO UPDATE SET normalized_name = EXCLUDED.normalized_name
RETURNING id
`, product.ID, product.DedupKey(), product.NormalizedName, nullString(product.Barcode), time.Now().UTC()).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert product: %w", err)
	}
	product.ID = id
	return id, nil
}

func (w *receiptWriter) InsertReceipt(ctx context.Context, rec *domain.Receipt) error {
	var id string
	err := w.q.QueryRowContext(ctx, `
INSERT INTO receipts (
	id, user_id, access_key, store_id, store_name, store_tax_id, provider, emitted_at,
	subtotal, total_tax, total_value, raw_qr_text, raw_payload, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (user_id, access_key) DO NOTHING
RETURNING id
`,
		rec.ID, rec.UserID, rec.AccessKey.String(), nullString(rec.StoreID), rec.StoreName, emptyAsNull(rec.StoreTaxID),
		string(rec.Provider), rec.EmittedAt, rec.Subtotal, rec.TotalTax, rec.TotalValue,
		rec.RawScan, rec.RawPayload, rec.CreatedAt,
	).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing, findErr := findReceiptID(ctx, w.q, rec.UserID, rec.AccessKey)
		if findErr != nil {
			return findErr
		}
		return &domain.DuplicateReceiptError{ExistingID: existing, AccessKey: rec.AccessKey}
	case isUniqueViolation(err):
		return &domain.DuplicateReceiptError{AccessKey: rec.AccessKey}
	case err != nil:
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

func (w *receiptWriter) InsertItems(ctx context.Context, items []domain.ReceiptItem) error {
	for i := range items {
		item := &items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		_, err := w.q.ExecContext(ctx, `
INSERT INTO receipt_items (
	id, receipt_id, product_id, line_number, description, quantity, unit_price, total_price, tax_value, barcode
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
			item.ID, item.ReceiptID, item.ProductID, item.LineNumber, item.Description,
			item.Quantity, item.UnitPrice, item.TotalPrice, nullDecimal(item.TaxValue), nullString(item.Barcode),
		)
		if err != nil {
			return fmt.Errorf("insert receipt item %d: %w", item.LineNumber, err)
		}
	}
	return nil
}
