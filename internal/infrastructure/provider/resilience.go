package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/infrastructure/resilience"
)

type HTTPStatusError struct {
	Provider   domain.ProviderID
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "provider status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("%s status: %s", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s status: %s: %s", e.Provider, e.Status, strings.TrimSpace(e.Body))
}

// statusKind maps a non-2xx status onto the provider error taxonomy.
func statusKind(code int) error {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return domain.ErrProviderUnauthorized
	case code == http.StatusNotFound:
		return domain.ErrProviderNotFound
	case code == http.StatusTooManyRequests:
		return domain.ErrProviderRateLimited
	case code == http.StatusRequestTimeout, code >= 500:
		return domain.ErrProviderUnavailable
	default:
		return domain.ErrProviderApplication
	}
}

func classifyProviderError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) &&
		!domain.IsKind(err, domain.ErrProviderUnavailable) {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}

	switch {
	case domain.IsKind(err, domain.ErrProviderUnavailable), domain.IsKind(err, domain.ErrProviderRateLimited):
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	case domain.IsKind(err, domain.ErrProviderNotFound),
		domain.IsKind(err, domain.ErrProviderApplication),
		domain.IsKind(err, domain.ErrUnrecognizedFormat),
		domain.IsKind(err, domain.ErrProviderUnauthorized),
		domain.IsKind(err, domain.ErrDisallowedHost):
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}

	return resilience.ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

// surfaceError keeps every failure inside the provider taxonomy.
func surfaceError(id domain.ProviderID, err error) error {
	if err == nil {
		return nil
	}
	op := fmt.Sprintf("%s fetch", id)
	if resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrProviderUnavailable, op, err)
	}
	switch domain.ClassOf(err) {
	case domain.ClassTemporary, domain.ClassProvider, domain.ClassClient:
		return err
	}
	return domain.WrapError(domain.ErrProviderUnavailable, op, err)
}
