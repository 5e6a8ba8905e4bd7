// Package provider queries the configured tax-data provider for a fiscal document.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/allowlist"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/ports"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/infrastructure/resilience"
)

const (
	DefaultAttemptTimeout = 8 * time.Second
	DefaultMaxBodyBytes   = 4 << 20
	maxRedirects          = 5
)

var errRedirectBlocked = errors.New("redirect to untrusted host")

type Config struct {
	Provider       domain.ProviderID
	BaseURL        string
	APIKey         string
	AppSecret      string
	AttemptTimeout time.Duration
	MaxBodyBytes   int64
	// RatePerSecond paces outbound calls; zero disables pacing.
	RatePerSecond float64
	RateBurst     int
	UserAgent     string
}

// HasCredentials reports whether a real provider is configured.
func (c Config) HasCredentials() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

type Client struct {
	cfg       Config
	strategy  strategy
	base      *url.URL
	hosts     *allowlist.List
	knownHost string

	httpClient *http.Client
	executor   *resilience.Executor
	limiter    *rate.Limiter
	recorder   ports.ProviderRecorder
	logger     *slog.Logger
	tracer     trace.Tracer
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithExecutor(exec *resilience.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.executor = exec
		}
	}
}

func WithRecorder(r ports.ProviderRecorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds the client for the configured provider. Without credentials it
// returns a client that only ever serves the synthetic note.
func New(cfg Config, hosts *allowlist.List, opts ...Option) (*Client, error) {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "fiscal-receipt-ingest/1.0"
	}

	c := &Client{
		cfg:      cfg,
		hosts:    hosts,
		executor: resilience.NewExecutor(resilience.DefaultConfig()),
		recorder: noopRecorder{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/kirillkom/fiscal-receipt-ingest/internal/infrastructure/provider"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !cfg.HasCredentials() {
		return c, nil
	}

	s, ok := strategies[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if s.needsSecret() && strings.TrimSpace(cfg.AppSecret) == "" {
		return nil, fmt.Errorf("provider %s requires an app secret", s.id())
	}

	known, err := url.Parse(s.defaultBaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse default base url: %w", err)
	}
	c.knownHost = strings.ToLower(known.Hostname())

	rawBase := strings.TrimSpace(cfg.BaseURL)
	if rawBase == "" {
		rawBase = s.defaultBaseURL()
	}
	base, err := url.Parse(strings.TrimRight(rawBase, "/"))
	if err != nil || (base.Scheme != "https" && base.Scheme != "http") || base.Host == "" {
		return nil, fmt.Errorf("invalid provider base url %q", rawBase)
	}
	if !c.trusted(base) {
		return nil, domain.WrapError(domain.ErrDisallowedHost, "configure provider", fmt.Errorf("base host %q", base.Hostname()))
	}
	c.strategy = s
	c.base = base

	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	hc := *c.httpClient
	hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		if !c.trusted(req.URL) {
			return fmt.Errorf("%w: %s", errRedirectBlocked, req.URL.Hostname())
		}
		return nil
	}
	c.httpClient = &hc

	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return c, nil
}

// Provider names the active strategy, or synthetic.
func (c *Client) Provider() domain.ProviderID {
	if c.strategy == nil {
		return domain.ProviderSynthetic
	}
	return c.strategy.id()
}

func (c *Client) Fetch(ctx context.Context, key domain.AccessKey) (*domain.ProviderQueryResult, error) {
	if c.strategy == nil {
		c.logger.Info("provider_synthetic_note", "access_key", key.String())
		return syntheticResult(key)
	}

	id := c.strategy.id()
	ctx, span := c.tracer.Start(ctx, "provider.fetch", trace.WithAttributes(
		attribute.String("provider", string(id)),
		attribute.String("access_key.prefix", key.Prefix()),
	))
	defer span.End()

	var (
		result   *domain.ProviderQueryResult
		attempts int
	)
	start := time.Now()
	err := c.executor.Execute(ctx, "provider."+string(id), func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			c.recorder.RecordProviderRetry(id)
			c.logger.Debug("retry_attempt", "provider", string(id), "attempt", attempts, "access_key", key.String())
		}
		r, err := c.attempt(ctx, key)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, classifyProviderError)
	if err != nil {
		err = surfaceError(id, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.KindName(err))
		c.logger.Warn("provider_fetch_fail",
			"provider", string(id),
			"kind", domain.KindName(err),
			"access_key", key.String(),
			"attempts", attempts,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	span.SetAttributes(attribute.String("payload.shape", domain.ShapeOf(result.Payload)))
	c.logger.Info("provider_fetch_ok",
		"provider", string(id),
		"access_key", key.String(),
		"shape", domain.ShapeOf(result.Payload),
		"attempts", attempts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// attempt performs exactly one bounded request.
func (c *Client) attempt(ctx context.Context, key domain.AccessKey) (result *domain.ProviderQueryResult, err error) {
	id := c.strategy.id()
	op := fmt.Sprintf("%s fetch", id)
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = domain.KindName(err)
		}
		c.recorder.ObserveProviderAttempt(id, outcome, time.Since(start))
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, domain.WrapError(domain.ErrProviderUnavailable, op, fmt.Errorf("rate limiter: %w", err))
		}
	}
	if !c.trusted(c.base) {
		return nil, domain.WrapError(domain.ErrDisallowedHost, op, fmt.Errorf("base host %q", c.base.Hostname()))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	req, err := c.strategy.newRequest(attemptCtx, c.base, key, credentials{apiKey: c.cfg.APIKey, appSecret: c.cfg.AppSecret})
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", id, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, errRedirectBlocked) {
			return nil, domain.WrapError(domain.ErrProviderApplication, op, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.WrapError(domain.ErrProviderUnavailable, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.WrapError(domain.ErrProviderUnavailable, op, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &HTTPStatusError{
			Provider:   id,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       truncate(string(body), 512),
		}
		return nil, domain.WrapError(statusKind(resp.StatusCode), op, statusErr)
	}
	if int64(len(body)) > c.cfg.MaxBodyBytes {
		return nil, domain.WrapError(domain.ErrUnrecognizedFormat, op, fmt.Errorf("body exceeds %d bytes", c.cfg.MaxBodyBytes))
	}

	contentType := resp.Header.Get("Content-Type")
	payload, err := decodePayload(contentType, body)
	if err != nil {
		return nil, err
	}
	return &domain.ProviderQueryResult{
		Provider:    id,
		AccessKey:   key,
		Payload:     payload,
		Raw:         body,
		ContentType: contentType,
	}, nil
}

// trusted admits the provider's well-known host and allow-listed hosts.
func (c *Client) trusted(u *url.URL) bool {
	if u == nil {
		return false
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return false
	}
	if c.knownHost != "" && strings.EqualFold(u.Hostname(), c.knownHost) {
		return true
	}
	return c.hosts.AllowsURL(u)
}

type noopRecorder struct{}

func (noopRecorder) ObserveProviderAttempt(domain.ProviderID, string, time.Duration) {}
func (noopRecorder) RecordProviderRetry(domain.ProviderID)                          {}
func (noopRecorder) RecordCacheLookup(bool)                                         {}
