package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/adapters/natsrpc"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/bootstrap"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/config"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/observability/logging"
)

const requestTimeout = 2 * time.Minute

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		logging.NewJSONLogger("receipt-worker", "info").Error("config_invalid", "error", err)
		return err
	}
	logger := logging.NewJSONLogger("receipt-worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{Service: "receipt-worker", RequireQueue: true})
	if err != nil {
		logger.Error("bootstrap_fail", "error", err)
		return err
	}
	defer app.Close()

	handler := natsrpc.NewHandler(app.IngestUC, app.GetUC, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Queue.Serve(gctx, natsrpc.SubjectIngest, natsrpc.QueueGroup, withTimeout(handler.HandleIngest))
	})
	g.Go(func() error {
		return app.Queue.Serve(gctx, natsrpc.SubjectGet, natsrpc.QueueGroup, withTimeout(handler.HandleGet))
	})
	g.Go(func() error {
		logger.Info("metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker_stopped", "error", err)
		return err
	}
	logger.Info("worker_stopped")
	return nil
}

func withTimeout(h func(context.Context, []byte) []byte) func(context.Context, []byte) []byte {
	return func(ctx context.Context, data []byte) []byte {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		return h(ctx, data)
	}
}
