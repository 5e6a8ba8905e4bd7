package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/ports"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/qrcode"
)

// AccessResolver turns validated scan text into an access key.
type AccessResolver interface {
	Resolve(text domain.ValidatedText) (domain.AccessKey, error)
}

type IngestReceiptUseCase struct {
	resolver   AccessResolver
	provider   ports.ProviderClient
	normalizer ports.ReceiptNormalizer
	store      ports.ReceiptStore
	cipher     ports.Cipher

	publisher ports.EventPublisher
	recorder  ports.IngestRecorder
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type IngestOption func(*IngestReceiptUseCase)

func WithEventPublisher(p ports.EventPublisher) IngestOption {
	return func(uc *IngestReceiptUseCase) { uc.publisher = p }
}

func WithIngestRecorder(r ports.IngestRecorder) IngestOption {
	return func(uc *IngestReceiptUseCase) {
		if r != nil {
			uc.recorder = r
		}
	}
}

func WithLogger(l *slog.Logger) IngestOption {
	return func(uc *IngestReceiptUseCase) {
		if l != nil {
			uc.logger = l
		}
	}
}

func WithClock(now func() time.Time) IngestOption {
	return func(uc *IngestReceiptUseCase) {
		if now != nil {
			uc.now = now
		}
	}
}

func NewIngestReceiptUseCase(
	resolver AccessResolver,
	provider ports.ProviderClient,
	normalizer ports.ReceiptNormalizer,
	store ports.ReceiptStore,
	cipher ports.Cipher,
	opts ...IngestOption,
) *IngestReceiptUseCase {
	uc := &IngestReceiptUseCase{
		resolver:   resolver,
		provider:   provider,
		normalizer: normalizer,
		store:      store,
		cipher:     cipher,
		recorder:   noopIngestRecorder{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("github.com/kirillkom/fiscal-receipt-ingest/internal/core/usecase"),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Ingest validates, resolves, fetches, normalizes and stores one scanned receipt.
// A repeat scan by the same user fails with *domain.DuplicateReceiptError.
func (uc *IngestReceiptUseCase) Ingest(ctx context.Context, userID, rawScan string) (string, error) {
	ctx, span := uc.tracer.Start(ctx, "receipt.ingest")
	defer span.End()

	start := time.Now()
	id, key, err := uc.ingest(ctx, userID, rawScan)
	elapsed := time.Since(start)

	if err == nil {
		uc.recorder.RecordIngest("created", elapsed)
		span.SetAttributes(attribute.String("receipt.id", id))
		return id, nil
	}

	kind := domain.KindName(err)
	uc.recorder.RecordIngest(kind, elapsed)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)

	attrs := []any{"user_id", userID, "kind", kind, "duration_ms", elapsed.Milliseconds(), "error", err}
	if key != "" {
		attrs = append(attrs, "access_key", key.String())
	}
	switch domain.ClassOf(err) {
	case domain.ClassClient:
		uc.logger.Info("receipt_rejected", attrs...)
	case domain.ClassConflict:
		uc.logger.Info("receipt_duplicate", attrs...)
	case domain.ClassInternal:
		uc.logger.Error("receipt_ingest_fail", attrs...)
	default:
		uc.logger.Warn("receipt_ingest_fail", attrs...)
	}
	return "", err
}

func (uc *IngestReceiptUseCase) ingest(ctx context.Context, userID, rawScan string) (string, domain.AccessKey, error) {
	if strings.TrimSpace(userID) == "" {
		return "", "", domain.WrapError(domain.ErrInvalidInput, "ingest receipt", fmt.Errorf("empty user id"))
	}

	text, err := qrcode.Validate(rawScan)
	if err != nil {
		return "", "", err
	}
	key, err := uc.resolver.Resolve(text)
	if err != nil {
		return "", "", err
	}

	existing, err := uc.store.FindReceiptID(ctx, userID, key)
	if err != nil {
		return "", key, fmt.Errorf("duplicate pre-check: %w", err)
	}
	if existing != "" {
		return "", key, &domain.DuplicateReceiptError{ExistingID: existing, AccessKey: key}
	}

	result, err := uc.provider.Fetch(ctx, key)
	if err != nil {
		return "", key, err
	}
	canonical, err := uc.normalizer.Normalize(result)
	if err != nil {
		return "", key, err
	}
	for _, issue := range canonical.Issues {
		uc.recorder.RecordQualityIssue(issue.Code)
		uc.logger.Warn("receipt_quality_issue",
			"access_key", key.String(),
			"provider", string(result.Provider),
			"code", issue.Code,
			"detail", issue.Detail,
		)
	}

	sealedScan, err := uc.cipher.Encrypt([]byte(rawScan))
	if err != nil {
		return "", key, fmt.Errorf("encrypt raw scan: %w", err)
	}
	sealedPayload, err := uc.cipher.Encrypt(result.Raw)
	if err != nil {
		return "", key, fmt.Errorf("encrypt raw payload: %w", err)
	}

	receipt := &domain.Receipt{
		ID:         uuid.NewString(),
		UserID:     userID,
		AccessKey:  key,
		StoreName:  canonical.StoreName,
		StoreTaxID: canonical.StoreTaxID,
		Provider:   result.Provider,
		EmittedAt:  canonical.EmittedAt,
		Subtotal:   canonical.Subtotal,
		TotalTax:   canonical.TotalTax,
		TotalValue: canonical.TotalValue,
		RawScan:    sealedScan,
		RawPayload: sealedPayload,
		CreatedAt:  uc.now(),
	}

	err = uc.store.RunInTx(ctx, func(tx ports.ReceiptWriter) error {
		return persist(ctx, tx, receipt, canonical)
	})
	if err != nil {
		return "", key, uc.resolveDuplicate(ctx, userID, key, err)
	}

	uc.logger.Info("receipt_saved",
		"receipt_id", receipt.ID,
		"user_id", userID,
		"access_key", key.String(),
		"provider", string(result.Provider),
		"items", len(canonical.Items),
		"total_value", receipt.TotalValue.StringFixed(2),
	)
	uc.publish(ctx, receipt)
	return receipt.ID, key, nil
}

// persist runs inside one transaction: store, products, receipt, items.
func persist(ctx context.Context, tx ports.ReceiptWriter, receipt *domain.Receipt, canonical *domain.CanonicalReceipt) error {
	if canonical.StoreTaxID != "" {
		storeID, err := tx.UpsertStore(ctx, &domain.Store{TaxID: canonical.StoreTaxID, Name: canonical.StoreName})
		if err != nil {
			return err
		}
		receipt.StoreID = &storeID
	}

	products := make([]domain.Product, len(canonical.Items))
	for i, line := range canonical.Items {
		products[i] = domain.Product{
			NormalizedName: domain.NormalizeProductName(line.Description),
			Barcode:        line.Barcode,
		}
	}
	productIDs, err := upsertProducts(ctx, tx, products)
	if err != nil {
		return err
	}

	items := make([]domain.ReceiptItem, 0, len(canonical.Items))
	for i, line := range canonical.Items {
		description := line.Description
		if description == "" {
			description = products[i].NormalizedName
		}
		items = append(items, domain.ReceiptItem{
			ReceiptID:   receipt.ID,
			ProductID:   productIDs[products[i].DedupKey()],
			LineNumber:  i + 1,
			Description: description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			TotalPrice:  line.LineTotal,
			TaxValue:    line.Tax,
			Barcode:     line.Barcode,
		})
	}

	if err := tx.InsertReceipt(ctx, receipt); err != nil {
		return err
	}
	if err := tx.InsertItems(ctx, items); err != nil {
		return err
	}
	receipt.Items = items
	return nil
}

// upsertProducts writes each distinct product once, in dedup-key order, so
// concurrent transactions lock shared product rows in the same order.
func upsertProducts(ctx context.Context, tx ports.ReceiptWriter, products []domain.Product) (map[string]string, error) {
	byKey := make(map[string]domain.Product, len(products))
	for _, p := range products {
		if _, ok := byKey[p.DedupKey()]; !ok {
			byKey[p.DedupKey()] = p
		}
	}
	keys := slices.Sorted(maps.Keys(byKey))

	ids := make(map[string]string, len(keys))
	for _, key := range keys {
		product := byKey[key]
		id, err := tx.UpsertProduct(ctx, &product)
		if err != nil {
			return nil, err
		}
		ids[key] = id
	}
	return ids, nil
}

// resolveDuplicate fills in the winner's id when a concurrent insert won the race.
func (uc *IngestReceiptUseCase) resolveDuplicate(ctx context.Context, userID string, key domain.AccessKey, err error) error {
	if !domain.IsKind(err, domain.ErrDuplicateReceipt) {
		return fmt.Errorf("persist receipt: %w", err)
	}
	if id, ok := domain.ExistingReceiptID(err); ok && id != "" {
		return err
	}
	existing, findErr := uc.store.FindReceiptID(ctx, userID, key)
	if findErr != nil {
		return err
	}
	return &domain.DuplicateReceiptError{ExistingID: existing, AccessKey: key}
}

func (uc *IngestReceiptUseCase) publish(ctx context.Context, receipt *domain.Receipt) {
	if uc.publisher == nil {
		return
	}
	event := domain.ReceiptIngested{
		ReceiptID:  receipt.ID,
		UserID:     receipt.UserID,
		AccessKey:  receipt.AccessKey,
		StoreTaxID: receipt.StoreTaxID,
		TotalValue: receipt.TotalValue,
		EmittedAt:  receipt.EmittedAt,
		CreatedAt:  receipt.CreatedAt,
	}
	if err := uc.publisher.PublishReceiptIngested(ctx, event); err != nil {
		uc.logger.Warn("receipt_event_publish_fail", "receipt_id", receipt.ID, "error", err)
	}
}

type noopIngestRecorder struct{}

func (noopIngestRecorder) RecordIngest(string, time.Duration) {}
func (noopIngestRecorder) RecordQualityIssue(string)          {}
