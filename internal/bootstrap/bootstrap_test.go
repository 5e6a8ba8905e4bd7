package bootstrap

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/config"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
)

func TestConfigMapping(t *testing.T) {
	cfg := config.Config{
		ProviderName:     "oobj",
		ProviderAPIKey:   "k",
		ProviderTimeout:  3 * time.Second,
		RetryMaxAttempts: 4,
		RetryBackoff:     200 * time.Millisecond,
		RetryMaxBackoff:  5 * time.Second,
		RetryJitter:      0.3,
		TotalTolerance:   0.05,
		ItemSumTolerance: 0.5,
	}

	rc := resilienceConfig(cfg)
	if rc.RetryMaxAttempts != 4 || rc.RetryInitialBackoff != 200*time.Millisecond || rc.RetryJitterFraction != 0.3 {
		t.Fatalf("unexpected resilience config %+v", rc)
	}
	if rc.BreakerEnabled {
		t.Fatalf("breaker should follow config")
	}

	pc := providerConfig(cfg)
	if pc.Provider != domain.ProviderOobj || pc.AttemptTimeout != 3*time.Second || !pc.HasCredentials() {
		t.Fatalf("unexpected provider config %+v", pc)
	}

	nc := normalizeConfig(cfg)
	if !nc.TotalTolerance.Equal(decimal.RequireFromString("0.05")) || !nc.ItemSumTolerance.Equal(decimal.RequireFromString("0.50")) {
		t.Fatalf("unexpected tolerances %s %s", nc.TotalTolerance, nc.ItemSumTolerance)
	}
}
