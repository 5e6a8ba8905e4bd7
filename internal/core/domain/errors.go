package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidQRCode  = errors.New("invalid qr code")
	ErrDisallowedHost = errors.New("disallowed host")

	ErrProviderUnauthorized = errors.New("provider unauthorized")
	ErrProviderNotFound     = errors.New("provider document not found")
	ErrProviderApplication  = errors.New("provider application error")
	ErrUnrecognizedFormat   = errors.New("unrecognized provider format")

	ErrProviderRateLimited = errors.New("provider rate limited")
	ErrProviderUnavailable = errors.New("provider unavailable")

	ErrDuplicateReceipt = errors.New("duplicate receipt")
	ErrReceiptNotFound  = errors.New("receipt not found")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// DuplicateReceiptError reports that (user, access key) was already ingested.
type DuplicateReceiptError struct {
	ExistingID string
	AccessKey  AccessKey
}

func (e *DuplicateReceiptError) Error() string {
	return fmt.Sprintf("receipt already exists: %s", e.ExistingID)
}

func (e *DuplicateReceiptError) Unwrap() error {
	return ErrDuplicateReceipt
}

// ExistingReceiptID extracts the identifier carried by a duplicate error.
func ExistingReceiptID(err error) (string, bool) {
	var dup *DuplicateReceiptError
	if errors.As(err, &dup) {
		return dup.ExistingID, true
	}
	return "", false
}

type ErrorClass string

const (
	ClassNone      ErrorClass = ""
	ClassClient    ErrorClass = "client"
	ClassConflict  ErrorClass = "conflict"
	ClassProvider  ErrorClass = "provider"
	ClassTemporary ErrorClass = "temporary"
	ClassNotFound  ErrorClass = "not_found"
	ClassInternal  ErrorClass = "internal"
)

// ClassOf groups an error into the category callers surface it as.
func ClassOf(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case IsKind(err, ErrInvalidInput), IsKind(err, ErrInvalidQRCode), IsKind(err, ErrDisallowedHost):
		return ClassClient
	case IsKind(err, ErrDuplicateReceipt):
		return ClassConflict
	case IsKind(err, ErrProviderRateLimited), IsKind(err, ErrProviderUnavailable):
		return ClassTemporary
	case IsKind(err, ErrProviderUnauthorized), IsKind(err, ErrProviderNotFound),
		IsKind(err, ErrProviderApplication), IsKind(err, ErrUnrecognizedFormat):
		return ClassProvider
	case IsKind(err, ErrReceiptNotFound):
		return ClassNotFound
	default:
		return ClassInternal
	}
}

// PublicMessage returns the text safe to hand back to the scanning client.
// Validation failures share one message so replies do not reveal the allow-list.
func PublicMessage(err error) string {
	switch ClassOf(err) {
	case ClassNone:
		return ""
	case ClassClient:
		return "invalid qr code"
	case ClassConflict:
		return "receipt already exists"
	case ClassTemporary:
		return "receipt provider temporarily unavailable"
	case ClassProvider:
		return "could not process receipt"
	case ClassNotFound:
		return "receipt not found"
	default:
		return "internal error"
	}
}

// KindName names the most specific sentinel in err, for logs and metrics.
func KindName(err error) string {
	kinds := []struct {
		kind error
		name string
	}{
		{ErrInvalidInput, "invalid_input"},
		{ErrInvalidQRCode, "invalid_qr_code"},
		{ErrDisallowedHost, "disallowed_host"},
		{ErrProviderUnauthorized, "provider_unauthorized"},
		{ErrProviderNotFound, "provider_not_found"},
		{ErrProviderApplication, "provider_application_error"},
		{ErrUnrecognizedFormat, "unrecognized_provider_format"},
		{ErrProviderRateLimited, "provider_rate_limited"},
		{ErrProviderUnavailable, "provider_unavailable"},
		{ErrDuplicateReceipt, "duplicate_receipt"},
		{ErrReceiptNotFound, "receipt_not_found"},
	}
	if err == nil {
		return "none"
	}
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "internal"
}
