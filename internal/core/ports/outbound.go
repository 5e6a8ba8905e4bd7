package ports

import (
	"context"
	"time"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
)

// ProviderClient queries the configured tax-data provider by access key.
type ProviderClient interface {
	Fetch(ctx context.Context, key domain.AccessKey) (*domain.ProviderQueryResult, error)
}

// ReceiptNormalizer maps any provider payload into the canonical receipt.
type ReceiptNormalizer interface {
	Normalize(result *domain.ProviderQueryResult) (*domain.CanonicalReceipt, error)
}

// ReceiptStore reads receipts and opens the transactional write scope.
type ReceiptStore interface {
	FindReceiptID(ctx context.Context, userID string, key domain.AccessKey) (string, error)
	GetReceipt(ctx context.Context, userID, receiptID string) (*domain.Receipt, error)
	RunInTx(ctx context.Context, fn func(tx ReceiptWriter) error) error
}

// ReceiptWriter is only valid inside RunInTx; every call joins the same transaction.
type ReceiptWriter interface {
	UpsertStore(ctx context.Context, store *domain.Store) (string, error)
	UpsertProduct(ctx context.Context, product *domain.Product) (string, error)
	// InsertReceipt returns *domain.DuplicateReceiptError when (user, access key) exists.
	InsertReceipt(ctx context.Context, receipt *domain.Receipt) error
	InsertItems(ctx context.Context, items []domain.ReceiptItem) error
}

// Cipher protects raw scan text and raw provider payloads at rest.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// EventPublisher notifies downstream consumers about committed receipts.
type EventPublisher interface {
	PublishReceiptIngested(ctx context.Context, event domain.ReceiptIngested) error
}

// PayloadCache keeps raw provider responses by access key.
type PayloadCache interface {
	Get(ctx context.Context, key domain.AccessKey) (*CachedPayload, error)
	Set(ctx context.Context, key domain.AccessKey, payload CachedPayload, ttl time.Duration) error
}

type CachedPayload struct {
	Provider    domain.ProviderID `json:"provider"`
	ContentType string            `json:"content_type"`
	Raw         []byte            `json:"raw"`
}

// IngestRecorder observes ingestion outcomes.
type IngestRecorder interface {
	RecordIngest(outcome string, duration time.Duration)
	RecordQualityIssue(code string)
}

// ProviderRecorder observes individual provider attempts.
type ProviderRecorder interface {
	ObserveProviderAttempt(provider domain.ProviderID, outcome string, duration time.Duration)
	RecordProviderRetry(provider domain.ProviderID)
	RecordCacheLookup(hit bool)
}
