// Package main provides the outbox relay, which publishes committed document
// events to Kafka.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helixir/records-service/internal/config"
	"github.com/helixir/records-service/internal/database"
	"github.com/helixir/records-service/internal/observability"
	"github.com/helixir/records-service/internal/outbox"
	"github.com/helixir/records-service/internal/repository"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("kafka is disabled; set RECORDS_KAFKA_ENABLED=true to run the relay")
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "relay").Logger()
	logger.Info().Msg("records-service outbox relay starting")

	metrics := observability.NewMetrics(cfg.Metrics.Namespace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	writer := outbox.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.BatchSize, cfg.Kafka.BatchTimeout)
	relay := outbox.NewRelay(repository.NewPgStore(db), writer, outbox.RelayConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	}, logger, metrics)
	defer func() {
		if err := relay.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close kafka writer")
		}
	}()

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
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
				stop()
			}
		}()
	}

	logger.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.Topic).
		Msg("outbox relay is ready")

	err = relay.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("outbox relay: %w", err)
	}
	logger.Info().Msg("outbox relay shutdown complete")
	return nil
}
