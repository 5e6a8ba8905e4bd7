package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/ports"
)

type GetReceiptUseCase struct {
	store  ports.ReceiptStore
	cipher ports.Cipher
}

func NewGetReceiptUseCase(store ports.ReceiptStore, cipher ports.Cipher) *GetReceiptUseCase {
	return &GetReceiptUseCase{store: store, cipher: cipher}
}

// GetReceipt loads a user's receipt with items and decrypted raw fields.
func (uc *GetReceiptUseCase) GetReceipt(ctx context.Context, userID, receiptID string) (*domain.Receipt, error) {
	receipt, err := uc.store.GetReceipt(ctx, userID, receiptID)
	if err != nil {
		return nil, err
	}
	if receipt.RawScan, err = uc.cipher.Decrypt(receipt.RawScan); err != nil {
		return nil, fmt.Errorf("decrypt raw scan: %w", err)
	}
	if receipt.RawPayload, err = uc.cipher.Decrypt(receipt.RawPayload); err != nil {
		return nil, fmt.Errorf("decrypt raw payload: %w", err)
	}
	return receipt, nil
}
