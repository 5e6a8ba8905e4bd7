package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/config"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/allowlist"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/normalize"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/ports"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/qrcode"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/usecase"
	rediscache "github.com/kirillkom/fiscal-receipt-ingest/internal/infrastructure/cache/redis"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/infrastructure/crypto"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/infrastructure/provider"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/infrastructure/queue/nats"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/infrastructure/resilience"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/observability/metrics"
)

// devRawDataSecret keeps local runs working without RAW_DATA_SECRET; never use it in production.
const devRawDataSecret = "dev-only-insecure-raw-data-secret"

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.IngestMetrics

	// Queue is nil unless events are enabled or the caller requires it.
	Queue    *nats.Queue
	IngestUC *usecase.IngestReceiptUseCase
	GetUC    *usecase.GetReceiptUseCase

	closers []func()
}

type Options struct {
	Service      string
	RequireQueue bool
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewIngestMetrics(opts.Service),
	}
	if err := app.wire(ctx, opts); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	cfg := a.Config

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	repo := postgres.NewReceiptRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	hosts, err := allowlist.Default(cfg.AllowedHosts...)
	if err != nil {
		return fmt.Errorf("build host allow-list: %w", err)
	}

	executor := resilience.NewExecutor(resilienceConfig(cfg))
	client, err := provider.New(providerConfig(cfg), hosts,
		provider.WithExecutor(executor),
		provider.WithRecorder(a.Metrics),
		provider.WithLogger(a.Logger),
	)
	if err != nil {
		return fmt.Errorf("init provider client: %w", err)
	}
	var fetcher ports.ProviderClient = client
	if cfg.RedisURL != "" {
		rdb, err := rediscache.Open(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("init payload cache: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		fetcher = provider.NewCachingClient(client, rediscache.NewPayloadCache(rdb), cfg.ProviderCacheTTL, a.Metrics, a.Logger)
	}
	a.Logger.Info("provider_configured",
		"provider", string(client.Provider()),
		"cache", cfg.RedisURL != "",
		"allowed_hosts", len(hosts.Hosts()),
	)

	secret := cfg.CipherSecret
	if secret == "" {
		a.Logger.Warn("raw_data_secret_default", "hint", "set RAW_DATA_SECRET outside local development")
		secret = devRawDataSecret
	}
	cipher, err := crypto.NewAEADCipher([]byte(secret), []byte(cfg.CipherSalt))
	if err != nil {
		return fmt.Errorf("init raw data cipher: %w", err)
	}

	ingestOpts := []usecase.IngestOption{
		usecase.WithIngestRecorder(a.Metrics),
		usecase.WithLogger(a.Logger),
	}
	if cfg.EventsEnabled || opts.RequireQueue {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSEventSubject, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
			Logger:             a.Logger,
		})
		if err != nil {
			return fmt.Errorf("init message queue: %w", err)
		}
		a.closers = append(a.closers, queue.Close)
		a.Queue = queue
		if cfg.EventsEnabled {
			ingestOpts = append(ingestOpts, usecase.WithEventPublisher(queue))
		}
	}

	a.IngestUC = usecase.NewIngestReceiptUseCase(
		qrcode.NewResolver(hosts),
		fetcher,
		normalize.New(normalizeConfig(cfg)),
		repo,
		cipher,
		ingestOpts...,
	)
	a.GetUC = usecase.NewGetReceiptUseCase(repo, cipher)
	return nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func resilienceConfig(cfg config.Config) resilience.Config {
	rc := resilience.DefaultConfig()
	rc.RetryMaxAttempts = cfg.RetryMaxAttempts
	rc.RetryInitialBackoff = cfg.RetryBackoff
	rc.RetryMaxBackoff = cfg.RetryMaxBackoff
	rc.RetryJitterFraction = cfg.RetryJitter
	rc.BreakerEnabled = cfg.BreakerEnabled
	return rc
}

func providerConfig(cfg config.Config) provider.Config {
	return provider.Config{
		Provider:       domain.ProviderID(cfg.ProviderName),
		BaseURL:        cfg.ProviderBaseURL,
		APIKey:         cfg.ProviderAPIKey,
		AppSecret:      cfg.ProviderAppSecret,
		AttemptTimeout: cfg.ProviderTimeout,
		MaxBodyBytes:   cfg.ProviderMaxBodyBytes,
		RatePerSecond:  cfg.ProviderRatePerSecond,
		RateBurst:      cfg.ProviderRateBurst,
	}
}

func normalizeConfig(cfg config.Config) normalize.Config {
	return normalize.Config{
		TotalTolerance:   decimal.NewFromFloat(cfg.TotalTolerance).Round(2),
		ItemSumTolerance: decimal.NewFromFloat(cfg.ItemSumTolerance).Round(2),
	}
}
