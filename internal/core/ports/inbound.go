package ports

import (
	"context"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
)

// ReceiptIngestor is the inbound contract for turning one scanned QR code into a stored receipt.
// The caller has already authenticated userID and applied rate limiting.
type ReceiptIngestor interface {
	Ingest(ctx context.Context, userID, rawScan string) (string, error)
}

// ReceiptReader is the inbound read model for stored receipts, raw fields decrypted.
type ReceiptReader interface {
	GetReceipt(ctx context.Context, userID, receiptID string) (*domain.Receipt, error)
}
