package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
)

// IngestMetrics records ingestion and provider traffic; it satisfies
// ports.IngestRecorder and ports.ProviderRecorder.
type IngestMetrics struct {
	registry *prometheus.Registry

	ingestTotal     *prometheus.CounterVec
	ingestDuration  *prometheus.HistogramVec
	qualityIssues   *prometheus.CounterVec
	providerAttempt *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	providerRetries *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
}

func NewIngestMetrics(service string) *IngestMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	ingestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "receipts",
			Subsystem:   "ingest",
			Name:        "total",
			Help:        "Ingestion requests by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	ingestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "receipts",
			Subsystem:   "ingest",
			Name:        "duration_seconds",
			Help:        "End-to-end ingestion duration by outcome.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	qualityIssues := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "receipts",
			Subsystem:   "ingest",
			Name:        "quality_issues_total",
			Help:        "Receipts saved with totals that do not reconcile.",
			ConstLabels: constLabels,
		},
		[]string{"code"},
	)
	providerAttempt := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "receipts",
			Subsystem:   "provider",
			Name:        "attempts_total",
			Help:        "Provider HTTP attempts by provider and outcome.",
			ConstLabels: constLabels,
		},
		[]string{"provider", "outcome"},
	)
	providerLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "receipts",
			Subsystem:   "provider",
			Name:        "attempt_duration_seconds",
			Help:        "Duration of a single provider attempt.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"provider"},
	)
	providerRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "receipts",
			Subsystem:   "provider",
			Name:        "retries_total",
			Help:        "Provider attempts after the first.",
			ConstLabels: constLabels,
		},
		[]string{"provider"},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "receipts",
			Subsystem:   "provider",
			Name:        "cache_lookups_total",
			Help:        "Provider payload cache lookups by result.",
			ConstLabels: constLabels,
		},
		[]string{"result"},
	)

	registry.MustRegister(ingestTotal, ingestDuration, qualityIssues, providerAttempt, providerLatency, providerRetries, cacheLookups)

	return &IngestMetrics{
		registry:        registry,
		ingestTotal:     ingestTotal,
		ingestDuration:  ingestDuration,
		qualityIssues:   qualityIssues,
		providerAttempt: providerAttempt,
		providerLatency: providerLatency,
		providerRetries: providerRetries,
		cacheLookups:    cacheLookups,
	}
}

func (m *IngestMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *IngestMetrics) RecordIngest(outcome string, d time.Duration) {
	m.ingestTotal.WithLabelValues(outcome).Inc()
	m.ingestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *IngestMetrics) RecordQualityIssue(code string) {
	m.qualityIssues.WithLabelValues(code).Inc()
}

func (m *IngestMetrics) ObserveProviderAttempt(provider domain.ProviderID, outcome string, d time.Duration) {
	m.providerAttempt.WithLabelValues(string(provider), outcome).Inc()
	m.providerLatency.WithLabelValues(string(provider)).Observe(d.Seconds())
}

func (m *IngestMetrics) RecordProviderRetry(provider domain.ProviderID) {
	m.providerRetries.WithLabelValues(string(provider)).Inc()
}

func (m *IngestMetrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
