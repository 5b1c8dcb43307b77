// Package main provides the entry point for the records service HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/records-service/internal/config"
	"github.com/helixir/records-service/internal/controlnumber"
	"github.com/helixir/records-service/internal/database"
	"github.com/helixir/records-service/internal/lifecycle"
	"github.com/helixir/records-service/internal/locking"
	"github.com/helixir/records-service/internal/observability"
	"github.com/helixir/records-service/internal/outbox"
	"github.com/helixir/records-service/internal/receipt"
	"github.com/helixir/records-service/internal/repository"
	httpserver "github.com/helixir/records-service/internal/server/http"
	"github.com/helixir/records-service/internal/sequence"
)

const serviceName = "records-service"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("records-service server starting")

	metrics := observability.NewMetrics(cfg.Metrics.Namespace)

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	if cfg.Database.MigrationAutoRun {
		if err := migrateUp(db, cfg.Database.MigrationPath, logger); err != nil {
			return err
		}
	}

	// Control-number allocation.
	registry, err := cfg.Allocation.Registry()
	if err != nil {
		return fmt.Errorf("build scheme registry: %w", err)
	}
	allocator, err := sequence.New(cfg.Allocation.Strategy, logger, metrics)
	if err != nil {
		return fmt.Errorf("create allocator: %w", err)
	}

	locker, closeLocker, err := locking.FromConfig(ctx, cfg.Locking, cfg.Redis, logger, metrics)
	if err != nil {
		return fmt.Errorf("create bucket locker: %w", err)
	}
	defer func() {
		if err := closeLocker(); err != nil {
			logger.Error().Err(err).Msg("failed to close bucket locker")
		}
	}()

	opts := []lifecycle.Option{
		lifecycle.WithDerivedUpdater(repository.NewPgSearchRecordRepository(db)),
		lifecycle.WithEmitter(outbox.NewEmitter(outbox.EmitterConfig{ServiceName: serviceName})),
	}
	if locker != nil {
		opts = append(opts, lifecycle.WithBucketLocker(locker))
	}
	service := lifecycle.NewService(
		repository.NewPgStore(db),
		registry,
		controlnumber.NewComposer(allocator, logger),
		logger,
		metrics,
		opts...,
	)
	logger.Info().
		Str("strategy", cfg.Allocation.Strategy).
		Str("locking", cfg.Locking.Backend).
		Msg("lifecycle service initialized")

	httpSrv := httpserver.NewServer(httpserver.Config{
		Address:        cfg.Server.HTTPAddress(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    2 * time.Minute,
		RateLimitRPS:   rateLimitRPS(cfg.RateLimit),
		RateLimitBurst: cfg.RateLimit.Burst,
	}, service, db, logger, metrics)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 3)

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	var listener *receipt.Listener
	if cfg.Receipts.Enabled {
		receiptCfg := receipt.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Receipts.Topic,
			GroupID: cfg.Receipts.GroupID,
			Actor:   cfg.Receipts.Actor,
		}
		listener = receipt.NewListener(receiptCfg, receipt.NewKafkaReader(receiptCfg), service, logger, metrics)

		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("receipt listener error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().Str("http_address", cfg.Server.HTTPAddress())
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Bool("receipts", listener != nil).Msg("records-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down records-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}
	if listener != nil {
		if err := listener.Close(); err != nil {
			logger.Error().Err(err).Msg("receipt listener close error")
		}
	}

	logger.Info().Msg("records-service shutdown complete")
	return nil
}

// migrateUp applies pending migrations from path, or from the embedded set.
func migrateUp(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.OpenMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func rateLimitRPS(cfg config.RateLimitConfig) float64 {
	if !cfg.Enabled {
		return 0
	}
	return cfg.RPS
}
