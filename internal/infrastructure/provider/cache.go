package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/ports"
)

// CachingClient serves repeated lookups of the same access key from a payload cache.
// Cache failures never fail a fetch.
type CachingClient struct {
	next     ports.ProviderClient
	cache    ports.PayloadCache
	ttl      time.Duration
	recorder ports.ProviderRecorder
	logger   *slog.Logger
}

func NewCachingClient(next ports.ProviderClient, cache ports.PayloadCache, ttl time.Duration, recorder ports.ProviderRecorder, logger *slog.Logger) *CachingClient {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingClient{next: next, cache: cache, ttl: ttl, recorder: recorder, logger: logger}
}

func (c *CachingClient) Fetch(ctx context.Context, key domain.AccessKey) (*domain.ProviderQueryResult, error) {
	cached, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.logger.Warn("provider_cache_get_fail", "access_key", key.String(), "error", err)
	case cached != nil:
		payload, decodeErr := decodePayload(cached.ContentType, cached.Raw)
		if decodeErr == nil {
			c.recorder.RecordCacheLookup(true)
			return &domain.ProviderQueryResult{
				Provider:    cached.Provider,
				AccessKey:   key,
				Payload:     payload,
				Raw:         cached.Raw,
				ContentType: cached.ContentType,
			}, nil
		}
		c.logger.Warn("provider_cache_entry_invalid", "access_key", key.String(), "error", decodeErr)
	}
	c.recorder.RecordCacheLookup(false)

	result, err := c.next.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	if result.Synthetic {
		return result, nil
	}
	entry := ports.CachedPayload{Provider: result.Provider, ContentType: result.ContentType, Raw: result.Raw}
	if err := c.cache.Set(ctx, key, entry, c.ttl); err != nil {
		c.logger.Warn("provider_cache_set_fail", "access_key", key.String(), "error", err)
	}
	return result, nil
}
