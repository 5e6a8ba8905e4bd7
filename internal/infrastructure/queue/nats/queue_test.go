package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
)

func TestClassifyBrokerError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{name: "no servers", err: fmt.Errorf("publish: %w", nats.ErrNoServers), retryable: true, record: true},
		{name: "timeout", err: nats.ErrTimeout, retryable: true, record: true},
		{name: "no responders", err: nats.ErrNoResponders, retryable: true, record: true},
		{name: "cancelled", err: context.Canceled, retryable: false, record: false},
		{name: "bad subject", err: nats.ErrBadSubject, retryable: false, record: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyBrokerError(tc.err)
			if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
				t.Fatalf("classifyBrokerError() = %+v, want retryable=%v record=%v", got, tc.retryable, tc.record)
			}
		})
	}
}

func TestBrokerErrorMarksTransientFailuresUnavailable(t *testing.T) {
	err := brokerError("publish receipt event", DefaultEventSubject, nats.ErrConnectionClosed)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !errors.Is(err, nats.ErrConnectionClosed) {
		t.Fatalf("expected cause to be kept, got %v", err)
	}
	var brokerErr *BrokerError
	if !errors.As(err, &brokerErr) {
		t.Fatalf("expected *BrokerError, got %T", err)
	}
	if brokerErr.Subject != DefaultEventSubject || !brokerErr.Transient {
		t.Fatalf("unexpected broker error: %+v", brokerErr)
	}
	if !strings.Contains(err.Error(), `publish receipt event on "receipt.ingested"`) {
		t.Fatalf("message = %q", err.Error())
	}
	if again := brokerError("request receipt reply", "receipts.ingest", err); again != err {
		t.Fatalf("already wrapped error must pass through, got %v", again)
	}
}

func TestBrokerErrorKeepsPermanentFailuresFinal(t *testing.T) {
	err := brokerError("publish receipt event", DefaultEventSubject, nats.ErrMaxPayload)
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("max payload must not be reported as unavailable: %v", err)
	}
	if !errors.Is(err, nats.ErrMaxPayload) {
		t.Fatalf("expected cause to be kept, got %v", err)
	}
	if brokerError("publish receipt event", DefaultEventSubject, nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
}

func TestEncodeEvent(t *testing.T) {
	event := domain.ReceiptIngested{
		ReceiptID:  "r-1",
		UserID:     "u-1",
		AccessKey:  "35200112345678901234567890123456789012345678",
		TotalValue: decimal.RequireFromString("49.30"),
		EmittedAt:  time.Date(2024, 4, 12, 18, 33, 0, 0, time.UTC),
	}
	data, err := encodeEvent(event)
	if err != nil {
		t.Fatalf("encodeEvent() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if decoded["receipt_id"] != "r-1" {
		t.Fatalf("receipt_id = %v", decoded["receipt_id"])
	}
	if decoded["total_value"] != "49.3" {
		t.Fatalf("total_value = %v", decoded["total_value"])
	}
	if decoded["emitted_at"] != "2024-04-12T18:33:00Z" {
		t.Fatalf("emitted_at = %v", decoded["emitted_at"])
	}
	if _, ok := decoded["store_tax_id"]; ok {
		t.Fatalf("event must not carry store_tax_id: %s", data)
	}
}
