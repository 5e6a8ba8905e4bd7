package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/ports"
)

var (
	_ ports.IngestRecorder   = (*IngestMetrics)(nil)
	_ ports.ProviderRecorder = (*IngestMetrics)(nil)
)

func TestIngestMetricsCountsByLabel(t *testing.T) {
	m := NewIngestMetrics("worker")

	m.RecordIngest("created", 120*time.Millisecond)
	m.RecordIngest("created", 80*time.Millisecond)
	m.RecordIngest("duplicate_receipt", time.Millisecond)
	m.RecordQualityIssue(domain.IssueTotalMismatch)
	m.ObserveProviderAttempt(domain.ProviderSerpro, "provider_unavailable", time.Second)
	m.ObserveProviderAttempt(domain.ProviderSerpro, "ok", time.Second)
	m.RecordProviderRetry(domain.ProviderSerpro)
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)

	if got := testutil.ToFloat64(m.ingestTotal.WithLabelValues("created")); got != 2 {
		t.Fatalf("created = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.providerAttempt.WithLabelValues("serpro", "ok")); got != 1 {
		t.Fatalf("serpro ok attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.providerRetries.WithLabelValues("serpro")); got != 1 {
		t.Fatalf("retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")); got != 1 {
		t.Fatalf("cache hits = %v, want 1", got)
	}
}

func TestIngestMetricsHandlerExposesRegistry(t *testing.T) {
	m := NewIngestMetrics("worker")
	m.RecordQualityIssue(domain.IssueItemSumMismatch)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	want := `receipts_ingest_quality_issues_total{code="item_sum_mismatch",service="worker"} 1`
	if !strings.Contains(string(body), want) {
		t.Fatalf("metrics output missing %q:\n%s", want, body)
	}
}
