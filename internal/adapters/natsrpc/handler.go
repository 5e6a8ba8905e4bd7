// Package natsrpc serves the ingestion use cases over NATS request/reply.
package natsrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/ports"
)

const (
	SubjectIngest = "receipts.ingest"
	SubjectGet    = "receipts.get"
	QueueGroup    = "receipt-workers"
)

type IngestRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
	QRText string `json:"qr_text" validate:"required"`
}

type GetRequest struct {
	UserID    string `json:"user_id" validate:"required,max=128"`
	ReceiptID string `json:"receipt_id" validate:"required,uuid"`
}

type Reply struct {
	Status    int          `json:"status"`
	ReceiptID string       `json:"receipt_id,omitempty"`
	Receipt   *ReceiptView `json:"receipt,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// ReceiptView is a stored receipt plus its decrypted scan text.
type ReceiptView struct {
	*domain.Receipt
	RawQRText string `json:"raw_qr_text"`
}

type Handler struct {
	ingestor ports.ReceiptIngestor
	reader   ports.ReceiptReader
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(ingestor ports.ReceiptIngestor, reader ports.ReceiptReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ingestor: ingestor,
		reader:   reader,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

func (h *Handler) HandleIngest(ctx context.Context, data []byte) []byte {
	var req IngestRequest
	if err := h.decode(data, &req); err != nil {
		return h.reply(SubjectIngest, Reply{}, err)
	}
	id, err := h.ingestor.Ingest(ctx, req.UserID, req.QRText)
	if err != nil {
		if existing, ok := domain.ExistingReceiptID(err); ok {
			return h.reply(SubjectIngest, Reply{ReceiptID: existing}, err)
		}
		return h.reply(SubjectIngest, Reply{}, err)
	}
	return h.reply(SubjectIngest, Reply{Status: 201, ReceiptID: id}, nil)
}

func (h *Handler) HandleGet(ctx context.Context, data []byte) []byte {
	var req GetRequest
	if err := h.decode(data, &req); err != nil {
		return h.reply(SubjectGet, Reply{}, err)
	}
	receipt, err := h.reader.GetReceipt(ctx, req.UserID, req.ReceiptID)
	if err != nil {
		return h.reply(SubjectGet, Reply{}, err)
	}
	view := &ReceiptView{Receipt: receipt, RawQRText: string(receipt.RawScan)}
	return h.reply(SubjectGet, Reply{Status: 200, ReceiptID: receipt.ID, Receipt: view}, nil)
}

func (h *Handler) decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "validate request", err)
	}
	return nil
}

func (h *Handler) reply(subject string, r Reply, err error) []byte {
	if err != nil {
		r.Status = mapErrorToStatus(err)
		r.Error = domain.PublicMessage(err)
		if r.Status >= 500 {
			h.logger.Error("rpc_request_fail", "subject", subject, "status", r.Status, "error", err)
		}
	}
	out, mErr := json.Marshal(r)
	if mErr != nil {
		h.logger.Error("rpc_reply_encode_fail", "subject", subject, "error", mErr)
		return []byte(fmt.Sprintf(`{"status":500,"error":%q}`, domain.PublicMessage(mErr)))
	}
	return out
}

// mapErrorToStatus uses HTTP status numbers so callers can forward replies unchanged.
func mapErrorToStatus(err error) int {
	switch domain.ClassOf(err) {
	case domain.ClassClient:
		return 400
	case domain.ClassNotFound:
		return 404
	case domain.ClassConflict:
		return 409
	case domain.ClassProvider:
		return 502
	case domain.ClassTemporary:
		return 503
	default:
		return 500
	}
}
