package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const AccessKeyLength = 44

// ValidatedText is raw scan text that passed sanitization and pattern checks.
type ValidatedText string

// AccessKey identifies exactly one fiscal document (44 digits).
type AccessKey string

func ParseAccessKey(s string) (AccessKey, error) {
	if !IsAccessKey(s) {
		return "", WrapError(ErrInvalidQRCode, "parse access key", fmt.Errorf("want %d digits, got %q", AccessKeyLength, s))
	}
	return AccessKey(s), nil
}

func IsAccessKey(s string) bool {
	if len(s) != AccessKeyLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (k AccessKey) String() string {
	return string(k)
}

// Prefix is the loggable head of the key (state code, emission month, issuer root).
func (k AccessKey) Prefix() string {
	if len(k) < 10 {
		return string(k)
	}
	return string(k[:10])
}

type CanonicalLineItem struct {
	Description string           `json:"description"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	LineTotal   decimal.Decimal  `json:"line_total"`
	Tax         *decimal.Decimal `json:"tax,omitempty"`
	Barcode     *string          `json:"barcode,omitempty"`
}

// CanonicalReceipt is the provider-agnostic form every payload shape maps into.
type CanonicalReceipt struct {
	AccessKey  AccessKey           `json:"access_key"`
	EmittedAt  time.Time           `json:"emitted_at"`
	StoreName  string              `json:"store_name"`
	StoreTaxID string              `json:"store_tax_id,omitempty"`
	Subtotal   decimal.Decimal     `json:"subtotal"`
	TotalTax   decimal.Decimal     `json:"total_tax"`
	TotalValue decimal.Decimal     `json:"total_value"`
	Items      []CanonicalLineItem `json:"items"`
	Issues     []QualityIssue      `json:"issues,omitempty"`
}

// QualityIssue flags provider data that does not reconcile; it never blocks ingestion.
type QualityIssue struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

const (
	IssueTotalMismatch   = "total_mismatch"
	IssueItemSumMismatch = "item_sum_mismatch"
)

// ItemSum adds every line total.
func (r *CanonicalReceipt) ItemSum() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range r.Items {
		sum = sum.Add(item.LineTotal)
	}
	return sum
}

// Reconciles reports whether total ≈ subtotal + tax within tolerance.
func (r *CanonicalReceipt) Reconciles(tolerance decimal.Decimal) bool {
	diff := r.TotalValue.Sub(r.Subtotal.Add(r.TotalTax)).Abs()
	return diff.LessThanOrEqual(tolerance)
}

type Store struct {
	ID        string    `json:"id"`
	TaxID     string    `json:"tax_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Product struct {
	ID             string    `json:"id"`
	NormalizedName string    `json:"normalized_name"`
	Barcode        *string   `json:"barcode,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// DedupKey is the identity products are shared under across all users.
func (p Product) DedupKey() string {
	if p.Barcode != nil && *p.Barcode != "" {
		return "ean:" + *p.Barcode
	}
	return "name:" + p.NormalizedName
}

type Receipt struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	AccessKey  AccessKey       `json:"access_key"`
	StoreID    *string         `json:"store_id,omitempty"`
	StoreName  string          `json:"store_name"`
	StoreTaxID string          `json:"store_tax_id,omitempty"`
	Provider   ProviderID      `json:"provider"`
	EmittedAt  time.Time       `json:"emitted_at"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	TotalTax   decimal.Decimal `json:"total_tax"`
	TotalValue decimal.Decimal `json:"total_value"`
	// RawScan and RawPayload hold ciphertext when written and plaintext once read back.
	RawScan    []byte        `json:"-"`
	RawPayload []byte        `json:"-"`
	CreatedAt  time.Time     `json:"created_at"`
	Items      []ReceiptItem `json:"items,omitempty"`
}

type ReceiptItem struct {
	ID          string           `json:"id"`
	ReceiptID   string           `json:"receipt_id"`
	ProductID   string           `json:"product_id"`
	LineNumber  int              `json:"line_number"`
	Description string           `json:"description"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	TotalPrice  decimal.Decimal  `json:"total_price"`
	TaxValue    *decimal.Decimal `json:"tax_value,omitempty"`
	Barcode     *string          `json:"barcode,omitempty"`
}

// ReceiptIngested is published once a receipt commits.
type ReceiptIngested struct {
	ReceiptID  string          `json:"receipt_id"`
	UserID     string          `json:"user_id"`
	AccessKey  AccessKey       `json:"access_key"`
	StoreTaxID string          `json:"store_tax_id,omitempty"`
	TotalValue decimal.Decimal `json:"total_value"`
	EmittedAt  time.Time       `json:"emitted_at"`
	CreatedAt  time.Time       `json:"created_at"`
}
