// Package main is the entry point for the buttongate server.
//
// The bootstrap sequence is:
//  1. Load configuration from environment variables.
//  2. Connect to PostgreSQL via pgxpool and run embedded migrations.
//  3. Create the repository and service (eagerly building the rule snapshot).
//  4. Wire up metrics, rate limiting, and request logging middleware.
//  5. Start the HTTP server (:8080).
//  6. Wait for SIGINT/SIGTERM, then gracefully shut down.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vmxmy/buttongate/internal/config"
	"github.com/vmxmy/buttongate/internal/logging"
	"github.com/vmxmy/buttongate/internal/metrics"
	"github.com/vmxmy/buttongate/internal/middleware"
	"github.com/vmxmy/buttongate/internal/repository"
	"github.com/vmxmy/buttongate/internal/server"
	"github.com/vmxmy/buttongate/internal/service"
	"github.com/vmxmy/buttongate/internal/tracing"
)

const (
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.LogLevel)
	slog.SetDefault(log)

	shutdownTracer, err := tracing.Init(context.Background())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := runMigrations(pool); err != nil {
		return err
	}

	repo := repository.NewPostgresRepository(pool)
	repo.SetEventBatchSize(cfg.EventBatchSize)

	m := metrics.New()
	metrics.RegisterPoolMetrics(m.Registry, pool)

	svc, err := service.New(ctx, repo,
		service.WithLogger(log),
		service.WithMetrics(service.MetricsHooks{
			RecordEvaluation:      m.RecordEvaluation,
			RecordSnapshot:        m.RecordSnapshot,
			RecordSnapshotFailure: m.RecordSnapshotFailure,
			RecordInvalidation:    m.RecordInvalidation,
			RecordEventPublished:  m.RecordEventPublished,
		}),
		service.WithResyncInterval(cfg.SnapshotResyncInterval),
	)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	sseStreams := m.ActiveStreams.WithLabelValues("sse")
	apiHandler := server.NewHTTPHandlerWithOptions(svc, server.Options{
		StreamPollInterval: cfg.StreamPollInterval,
		MaxJSONBodyBytes:   cfg.MaxJSONBodySize,
		MetricsHandler:     m.Handler(),
		OnStreamOpen:       sseStreams.Inc,
		OnStreamClose:      sseStreams.Dec,
	})

	limiter := middleware.NewWriteLimiter(ctx, cfg.WriteRateLimit)
	defer limiter.Stop()

	httpHandler := newHTTPHandler(apiHandler, log, m, limiter)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(httpHandler, "buttongate-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	defer httpListener.Close()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()

	log.Info("server started", "http_addr", cfg.HTTPAddr)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	log.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		if serveErr != nil {
			return serveErr
		}
		return fmt.Errorf("shutdown HTTP: %w", err)
	}

	return serveErr
}

// newHTTPHandler wraps the API routes with write rate limiting, metrics
// recording, and request logging. /healthz and /metrics bypass the
// middleware stack so probes and scrapes stay cheap and unthrottled.
func newHTTPHandler(apiHandler http.Handler, log *slog.Logger, m *metrics.Metrics, limiter *middleware.WriteLimiter) http.Handler {
	wrapped := middleware.HTTPRequestLogging(log)(
		middleware.HTTPMetrics(m.RecordHTTPRequest)(
			middleware.WriteRateLimit(limiter, m.RateLimited.Inc)(apiHandler),
		),
	)

	mux := http.NewServeMux()
	mux.Handle("/v1/", wrapped)
	mux.Handle("GET /healthz", apiHandler)
	mux.Handle("GET /metrics", apiHandler)

	return mux
}
