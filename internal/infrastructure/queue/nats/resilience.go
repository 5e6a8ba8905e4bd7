package nats

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/infrastructure/resilience"
)

// ErrUnavailable marks broker failures a caller may retry later: the receipt is
// already committed, only its announcement or the request round trip was lost.
var ErrUnavailable = errors.New("receipt broker unavailable")

// transientBrokerErrors are connection-level conditions that clear on their own.
var transientBrokerErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrNoResponders,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
}

// BrokerError reports a failed receipt publish or request on one subject.
type BrokerError struct {
	Op        string
	Subject   string
	Transient bool
	Err       error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("%s on %q: %v", e.Op, e.Subject, e.Err)
}

func (e *BrokerError) Unwrap() []error {
	if e.Transient {
		return []error{ErrUnavailable, e.Err}
	}
	return []error{e.Err}
}

func isTransientBrokerError(err error) bool {
	return slices.ContainsFunc(transientBrokerErrors, func(target error) bool {
		return errors.Is(err, target)
	})
}

// classifyBrokerError tells the executor which receipt publishes to retry and
// which failures count against the broker breaker.
func classifyBrokerError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	case resilience.IsCircuitOpen(err), isTransientBrokerError(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}
}

// brokerError wraps err for op on subject, marking it unavailable when a later
// attempt could succeed. Nil and already-wrapped errors pass through.
func brokerError(op, subject string, err error) error {
	if err == nil {
		return nil
	}
	var existing *BrokerError
	if errors.As(err, &existing) {
		return err
	}
	return &BrokerError{
		Op:        op,
		Subject:   subject,
		Transient: isTransientBrokerError(err) || resilience.IsCircuitOpen(err),
		Err:       err,
	}
}
