// Package normalize maps every provider payload shape into domain.CanonicalReceipt.
package normalize

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
)

const UnknownStoreName = "Loja não identificada"

type Config struct {
	// TotalTolerance bounds |total - (subtotal + tax)| before a quality issue is raised.
	TotalTolerance decimal.Decimal
	// ItemSumTolerance bounds |subtotal - sum(items)|.
	ItemSumTolerance decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		TotalTolerance:   decimal.RequireFromString("0.05"),
		ItemSumTolerance: decimal.RequireFromString("0.50"),
	}
}

type Normalizer struct {
	cfg Config
}

func New(cfg Config) *Normalizer {
	def := DefaultConfig()
	if cfg.TotalTolerance.IsNegative() || cfg.TotalTolerance.IsZero() {
		cfg.TotalTolerance = def.TotalTolerance
	}
	if cfg.ItemSumTolerance.IsNegative() || cfg.ItemSumTolerance.IsZero() {
		cfg.ItemSumTolerance = def.ItemSumTolerance
	}
	return &Normalizer{cfg: cfg}
}

// draft collects raw fields before defaults and rounding are applied.
type draft struct {
	accessKey  string
	emittedAt  string
	storeName  string
	storeTaxID string
	subtotal   *decimal.Decimal
	tax        *decimal.Decimal
	total      *decimal.Decimal
	items      []domain.CanonicalLineItem
}

func (n *Normalizer) Normalize(result *domain.ProviderQueryResult) (*domain.CanonicalReceipt, error) {
	const op = "normalize receipt"
	if result == nil {
		return nil, domain.WrapError(domain.ErrUnrecognizedFormat, op, fmt.Errorf("nil provider result"))
	}

	var (
		d   draft
		err error
	)
	switch p := result.Payload.(type) {
	case domain.XMLPayload:
		d, err = fromXML(p.Root)
	case domain.WrappedJSONPayload:
		d, err = fromWrappedJSON(p.Body)
	case domain.FlatJSONPayload:
		d, err = fromFlatJSON(p.Body)
	default:
		err = fmt.Errorf("payload shape %s", domain.ShapeOf(result.Payload))
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnrecognizedFormat, op, err)
	}
	return n.finish(result.AccessKey, d)
}

func (n *Normalizer) finish(requested domain.AccessKey, d draft) (*domain.CanonicalReceipt, error) {
	const op = "normalize receipt"

	key := requested
	if got := digitsOnly(d.accessKey); got != "" {
		if requested != "" && got != requested.String() {
			return nil, domain.WrapError(domain.ErrProviderApplication, op,
				fmt.Errorf("payload key %s does not match requested %s", got, requested))
		}
		key = domain.AccessKey(got)
	}
	if !domain.IsAccessKey(key.String()) {
		return nil, domain.WrapError(domain.ErrUnrecognizedFormat, op, fmt.Errorf("no access key"))
	}
	if len(d.items) == 0 {
		return nil, domain.WrapError(domain.ErrUnrecognizedFormat, op, fmt.Errorf("no line items"))
	}
	emitted, err := parseTimestamp(d.emittedAt)
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnrecognizedFormat, op, err)
	}

	receipt := &domain.CanonicalReceipt{
		AccessKey:  key,
		EmittedAt:  emitted,
		StoreName:  strings.TrimSpace(d.storeName),
		StoreTaxID: digitsOnly(d.storeTaxID),
		Items:      d.items,
	}
	if receipt.StoreName == "" {
		receipt.StoreName = UnknownStoreName
	}

	itemSum := receipt.ItemSum()
	if d.subtotal != nil {
		receipt.Subtotal = *d.subtotal
	} else {
		receipt.Subtotal = itemSum
	}
	if d.tax != nil {
		receipt.TotalTax = *d.tax
	} else {
		receipt.TotalTax = knownItemTax(d.items)
	}
	if d.total != nil {
		receipt.TotalValue = *d.total
	} else {
		receipt.TotalValue = receipt.Subtotal.Add(receipt.TotalTax)
	}
	receipt.Subtotal = receipt.Subtotal.Round(moneyPlaces)
	receipt.TotalTax = receipt.TotalTax.Round(moneyPlaces)
	receipt.TotalValue = receipt.TotalValue.Round(moneyPlaces)

	if !receipt.Reconciles(n.cfg.TotalTolerance) {
		receipt.Issues = append(receipt.Issues, domain.QualityIssue{
			Code: domain.IssueTotalMismatch,
			Detail: fmt.Sprintf("total %s vs subtotal %s + tax %s",
				receipt.TotalValue.StringFixed(2), receipt.Subtotal.StringFixed(2), receipt.TotalTax.StringFixed(2)),
		})
	}
	if diff := receipt.Subtotal.Sub(itemSum).Abs(); diff.GreaterThan(n.cfg.ItemSumTolerance) {
		receipt.Issues = append(receipt.Issues, domain.QualityIssue{
			Code:   domain.IssueItemSumMismatch,
			Detail: fmt.Sprintf("subtotal %s vs item sum %s", receipt.Subtotal.StringFixed(2), itemSum.StringFixed(2)),
		})
	}
	return receipt, nil
}

func knownItemTax(items []domain.CanonicalLineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		if item.Tax != nil {
			sum = sum.Add(*item.Tax)
		}
	}
	return sum
}

// rawItem is one line before defaults are applied.
type rawItem struct {
	description string
	quantity    any
	unitPrice   any
	lineTotal   any
	tax         any
	barcode     string
}

func buildItem(index int, raw rawItem) (domain.CanonicalLineItem, error) {
	qty, hasQty, err := parseDecimal(raw.quantity)
	if err != nil {
		return domain.CanonicalLineItem{}, fmt.Errorf("item %d quantity: %w", index, err)
	}
	unit, hasUnit, err := parseDecimal(raw.unitPrice)
	if err != nil {
		return domain.CanonicalLineItem{}, fmt.Errorf("item %d unit price: %w", index, err)
	}
	total, hasTotal, err := parseDecimal(raw.lineTotal)
	if err != nil {
		return domain.CanonicalLineItem{}, fmt.Errorf("item %d line total: %w", index, err)
	}
	tax, hasTax, err := parseDecimal(raw.tax)
	if err != nil {
		return domain.CanonicalLineItem{}, fmt.Errorf("item %d tax: %w", index, err)
	}

	if !hasQty || !qty.IsPositive() {
		qty = decimal.NewFromInt(1)
	}
	switch {
	case !hasTotal && !hasUnit:
		return domain.CanonicalLineItem{}, fmt.Errorf("item %d has neither unit price nor line total", index)
	case !hasTotal:
		total = unit.Mul(qty)
	case !hasUnit:
		unit = total.Div(qty)
	}

	item := domain.CanonicalLineItem{
		Description: strings.TrimSpace(raw.description),
		Quantity:    qty.Round(quantityPlaces),
		UnitPrice:   unit.Round(moneyPlaces),
		LineTotal:   total.Round(moneyPlaces),
	}
	if hasTax {
		t := tax.Round(moneyPlaces)
		item.Tax = &t
	}
	if b := normalizeBarcode(raw.barcode); b != "" {
		item.Barcode = &b
	}
	return item, nil
}

func normalizeBarcode(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "SEM GTIN") {
		return ""
	}
	return digitsOnly(s)
}

func optionalMoney(v any, field string) (*decimal.Decimal, error) {
	d, ok, err := parseDecimal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	if !ok {
		return nil, nil
	}
	return &d, nil
}
