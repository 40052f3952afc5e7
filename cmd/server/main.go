package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/quickpoll/backend/internal/broker"
	"github.com/quickpoll/backend/internal/config"
	"github.com/quickpoll/backend/internal/database"
	"github.com/quickpoll/backend/internal/logging"
	"github.com/quickpoll/backend/internal/metrics"
	"github.com/quickpoll/backend/internal/router"
	"github.com/quickpoll/backend/internal/services"
	qpsentry "github.com/quickpoll/backend/internal/sentry"
)

func main() {
	// A missing .env file is normal outside local development
	envErr := godotenv.Load()

	// Initialize structured logging (reads LOGGING_LEVEL env var)
	logging.Initialize()
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		slog.Warn("failed to load .env file", slog.Any("error", envErr))
	}

	// Load configuration
	cfg := config.Load()

	enabled, err := qpsentry.Init(cfg)
	if err != nil {
		slog.Error("failed to initialize sentry", slog.Any("error", err))
	} else if enabled {
		defer sentry.Flush(qpsentry.FlushTimeout)
		slog.Info("sentry enabled", slog.String("environment", cfg.SentryEnvironment))
	}

	if err := run(cfg); err != nil {
		slog.Error("server failed", slog.Any("error", err))
		sentry.Flush(qpsentry.FlushTimeout)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// Initialize database
	sqlDB, err := database.New(cfg.DatabasePath)
	if err != nil {
		return logging.WrapError(err, "failed to connect to database")
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(sqlDB); err != nil {
		return logging.WrapError(err, "failed to run migrations")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Live fan-out and poll mutations
	b := broker.New(m)
	polls := services.NewPollService(sqlDB, b, m)

	// Create router
	r := router.New(cfg, router.Deps{
		Polls:    polls,
		Broker:   b,
		Gatherer: registry,
		Clock:    clockwork.NewRealClock(),
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		// Start server
		slog.Info("starting server", slog.String("addr", addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return logging.WrapError(err, "listen")
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down", slog.Duration("timeout", cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by the server.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown incomplete", slog.Any("error", err))
	}
	b.Shutdown()

	return nil
}
