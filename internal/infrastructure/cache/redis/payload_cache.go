// Package redis keeps raw provider payloads so repeated scans of one receipt cost one provider call.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/ports"
)

const payloadKeyPrefix = "receipt:payload:"

// kv is the slice of redis.Cmdable the cache needs.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type PayloadCache struct {
	client kv
}

func NewPayloadCache(client kv) *PayloadCache {
	return &PayloadCache{client: client}
}

// Open parses a redis:// URL and pings the server.
func Open(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Get returns nil, nil on a miss.
func (c *PayloadCache) Get(ctx context.Context, key domain.AccessKey) (*ports.CachedPayload, error) {
	raw, err := c.client.Get(ctx, payloadKeyPrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get payload: %w", err)
	}
	var entry ports.CachedPayload
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode cached payload: %w", err)
	}
	return &entry, nil
}

func (c *PayloadCache) Set(ctx context.Context, key domain.AccessKey, payload ports.CachedPayload, ttl time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode cached payload: %w", err)
	}
	if err := c.client.Set(ctx, payloadKeyPrefix+key.String(), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set payload: %w", err)
	}
	return nil
}
