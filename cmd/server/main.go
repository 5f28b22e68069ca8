// Package main provides the entry point for the deep research service HTTP server.
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

	"github.com/scholarpipe/deep-research-service/internal/config"
	"github.com/scholarpipe/deep-research-service/internal/database"
	"github.com/scholarpipe/deep-research-service/internal/dispatch"
	"github.com/scholarpipe/deep-research-service/internal/engine"
	"github.com/scholarpipe/deep-research-service/internal/executor"
	"github.com/scholarpipe/deep-research-service/internal/lock"
	"github.com/scholarpipe/deep-research-service/internal/observability"
	"github.com/scholarpipe/deep-research-service/internal/repository"
	httpserver "github.com/scholarpipe/deep-research-service/internal/server/http"
)

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
	logger.Info().Msg("deep-research-service server starting")

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

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
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
	}

	// Create repositories.
	runRepo := repository.NewPgRunRepository(db)
	stepRepo := repository.NewPgStepRepository(db)
	citationRepo := repository.NewPgCitationRepository(db)

	// Create metrics.
	metrics := observability.NewMetrics("deep_research")

	// Create provider executors.
	executors, err := executor.NewRegistry(executor.FactoryConfig{
		OpenAI: executor.OpenAIConfig{
			APIKey:            cfg.Providers.OpenAI.APIKey,
			Model:             cfg.Providers.OpenAI.Model,
			BaseURL:           cfg.Providers.OpenAI.BaseURL,
			RequestsPerMinute: cfg.Providers.OpenAI.RequestsPerMinute,
		},
		Gemini: executor.GeminiConfig{
			APIKey:            cfg.Providers.Gemini.APIKey,
			Model:             cfg.Providers.Gemini.Model,
			BaseURL:           cfg.Providers.Gemini.BaseURL,
			RequestsPerMinute: cfg.Providers.Gemini.RequestsPerMinute,
		},
	})
	if err != nil {
		return fmt.Errorf("create provider executors: %w", err)
	}

	// Provider and session mutual exclusion via Postgres advisory locks, so
	// the guarantee holds across server and poller processes.
	locker := lock.NewAdvisoryLocker(db.Pool())

	// Create the run event publisher.
	var publisher engine.EventPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher := dispatch.NewKafkaPublisher(dispatch.PublisherConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.EventsTopic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, metrics, logger)
		publisher = kafkaPublisher
		defer func() {
			if closeErr := kafkaPublisher.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close event publisher")
			}
		}()
	} else {
		publisher = dispatch.NewLogPublisher(logger)
	}

	// Create the orchestration engine.
	eng := engine.New(engine.Deps{
		Runs:      runRepo,
		Steps:     stepRepo,
		Citations: citationRepo,
		Executors: executors,
		Locker:    locker,
		Publisher: publisher,
		Metrics:   metrics,
	}, engine.Config{
		MaxGapLoops:        cfg.Engine.MaxGapLoops,
		RetryCeiling:       cfg.Engine.RetryCeiling,
		StepTimeout:        cfg.Engine.StepTimeout,
		PriorSummaryLength: cfg.Engine.PriorSummaryLength,
	}, logger)

	// Tick enqueuer for newly created runs. With Kafka this hands the first
	// pass to the poller fleet; without it the pass runs in-process.
	var enqueuer dispatch.Enqueuer
	if cfg.Kafka.Enabled {
		producer := dispatch.NewProducer(dispatch.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.TickTopic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, logger)
		enqueuer = producer
		defer func() {
			if closeErr := producer.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close tick producer")
			}
		}()
	} else {
		throttle := dispatch.NewMemoryThrottle(cfg.Dispatch.ThrottleInterval)
		enqueuer = dispatch.NewInlineEnqueuer(eng, throttle, logger)
	}

	// Create the HTTP REST API server.
	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}

	httpSrv := httpserver.NewServer(
		httpCfg,
		runRepo,
		stepRepo,
		citationRepo,
		eng,
		enqueuer,
		db,
		logger,
	)

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
	errCh := make(chan error, 2)

	// Start HTTP REST API server in background.
	go func() {
		logger.Info().
			Str("address", httpCfg.Address).
			Msg("HTTP REST API server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Start metrics server if configured.
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

	readyLog := logger.Info().Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("deep-research-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down deep-research-service")

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

	logger.Info().Msg("deep-research-service shutdown complete")
	return nil
}
