package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/ports"
)

const testKey = domain.AccessKey("35200112345678901234567890123456789012345678")

func newRepoWithMock(t *testing.T) (*ReceiptRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewReceiptRepository(db), mock, func() { _ = db.Close() }
}

func testReceipt() *domain.Receipt {
	return &domain.Receipt{
		ID:         "rec-1",
		UserID:     "user-1",
		AccessKey:  testKey,
		StoreName:  "MERCADO",
		Provider:   domain.ProviderSynthetic,
		EmittedAt:  time.Date(2024, 4, 12, 18, 33, 0, 0, time.UTC),
		Subtotal:   decimal.RequireFromString("47.00"),
		TotalTax:   decimal.RequireFromString("2.30"),
		TotalValue: decimal.RequireFromString("49.30"),
		RawScan:    []byte("ciphertext-scan"),
		RawPayload: []byte("ciphertext-payload"),
		CreatedAt:  time.Now().UTC(),
	}
}

func TestInsertReceiptReportsExistingIDOnConflict(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO receipts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT id FROM receipts").
		WithArgs("user-1", testKey.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rec-existing"))
	mock.ExpectRollback()

	err := repo.RunInTx(context.Background(), func(tx ports.ReceiptWriter) error {
		return tx.InsertReceipt(context.Background(), testReceipt())
	})
	if !errors.Is(err, domain.ErrDuplicateReceipt) {
		t.Fatalf("expected duplicate receipt, got %v", err)
	}
	id, ok := domain.ExistingReceiptID(err)
	if !ok || id != "rec-existing" {
		t.Fatalf("expected existing id rec-existing, got %q (%v)", id, ok)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertReceiptTranslatesUniqueViolation(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO receipts").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_receipts_user_access_key"})
	mock.ExpectRollback()

	err := repo.RunInTx(context.Background(), func(tx ports.ReceiptWriter) error {
		return tx.InsertReceipt(context.Background(), testReceipt())
	})
	if !domain.IsKind(err, domain.ErrDuplicateReceipt) {
		t.Fatalf("expected duplicate receipt, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunInTxCommitsAllWrites(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	barcode := "7891234567890"
	tax := decimal.RequireFromString("1.20")

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO stores").
		WithArgs(sqlmock.AnyArg(), "12345678000100", "MERCADO", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("store-1"))
	mock.ExpectQuery("INSERT INTO products").
		WithArgs(sqlmock.AnyArg(), "ean:"+barcode, "arroz", barcode, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("prod-1"))
	mock.ExpectQuery("INSERT INTO receipts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rec-1"))
	mock.ExpectExec("INSERT INTO receipt_items").
		WithArgs(sqlmock.AnyArg(), "rec-1", "prod-1", 1, "ARROZ TIPO 1 5KG",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), barcode).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.RunInTx(context.Background(), func(tx ports.ReceiptWriter) error {
		storeID, err := tx.UpsertStore(context.Background(), &domain.Store{TaxID: "12345678000100", Name: "MERCADO"})
		if err != nil {
			return err
		}
		productID, err := tx.UpsertProduct(context.Background(), &domain.Product{NormalizedName: "arroz", Barcode: &barcode})
		if err != nil {
			return err
		}
		rec := testReceipt()
		rec.StoreID = &storeID
		if err := tx.InsertReceipt(context.Background(), rec); err != nil {
			return err
		}
		return tx.InsertItems(context.Background(), []domain.ReceiptItem{{
			ReceiptID:   rec.ID,
			ProductID:   productID,
			LineNumber:  1,
			Description: "ARROZ TIPO 1 5KG",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.RequireFromString("25.50"),
			TotalPrice:  decimal.RequireFromString("25.50"),
			TaxValue:    &tax,
			Barcode:     &barcode,
		}})
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO stores").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.RunInTx(context.Background(), func(tx ports.ReceiptWriter) error {
		_, err := tx.UpsertStore(context.Background(), &domain.Store{TaxID: "1", Name: "X"})
		return err
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindReceiptIDReturnsEmptyWhenAbsent(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id FROM receipts").
		WithArgs("user-1", testKey.String()).
		WillReturnError(sql.ErrNoRows)

	id, err := repo.FindReceiptID(context.Background(), "user-1", testKey)
	if err != nil {
		t.Fatalf("FindReceiptID() error = %v", err)
	}
	if id != "" {
		t.Fatalf("expected empty id, got %q", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetReceiptReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, user_id, access_key").
		WithArgs("missing", "user-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetReceipt(context.Background(), "user-1", "missing")
	if !domain.IsKind(err, domain.ErrReceiptNotFound) {
		t.Fatalf("expected ErrReceiptNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetReceiptLoadsItemsWithNullableColumns(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	emitted := time.Date(2024, 4, 12, 18, 33, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, user_id, access_key").
		WithArgs("rec-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "access_key", "store_id", "store_name", "store_tax_id", "provider", "emitted_at",
			"subtotal", "total_tax", "total_value", "raw_qr_text", "raw_payload", "created_at",
		}).AddRow("rec-1", "user-1", testKey.String(), nil, "MERCADO", nil, "serpro", emitted,
			"47.00", "2.30", "49.30", []byte("c1"), []byte("c2"), emitted))
	mock.ExpectQuery("SELECT id, receipt_id, product_id").
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "receipt_id", "product_id", "line_number", "description", "quantity", "unit_price", "total_price", "tax_value", "barcode",
		}).
			AddRow("item-1", "rec-1", "prod-1", 1, "ARROZ", "1.000", "25.50", "25.50", "1.20", "789").
			AddRow("item-2", "rec-1", "prod-2", 2, "PAO", "2.000", "5.00", "10.00", nil, nil))

	rec, err := repo.GetReceipt(context.Background(), "user-1", "rec-1")
	if err != nil {
		t.Fatalf("GetReceipt() error = %v", err)
	}
	if rec.StoreID != nil || rec.StoreTaxID != "" {
		t.Fatalf("expected null store columns, got %v %q", rec.StoreID, rec.StoreTaxID)
	}
	if !rec.TotalValue.Equal(decimal.RequireFromString("49.30")) {
		t.Fatalf("unexpected total %s", rec.TotalValue)
	}
	if len(rec.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(rec.Items))
	}
	if rec.Items[0].TaxValue == nil || rec.Items[0].Barcode == nil {
		t.Fatalf("expected populated optional fields on first item")
	}
	if rec.Items[1].TaxValue != nil || rec.Items[1].Barcode != nil {
		t.Fatalf("expected unknown optional fields to stay nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
