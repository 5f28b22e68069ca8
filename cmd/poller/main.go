// Package main provides the entry point for the deep research tick poller.
// The poller scans for active runs, enqueues tick jobs, and executes
// orchestration passes until every run reaches a terminal state.
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

	"github.com/scholarpipe/deep-research-service/internal/config"
	"github.com/scholarpipe/deep-research-service/internal/database"
	"github.com/scholarpipe/deep-research-service/internal/dispatch"
	"github.com/scholarpipe/deep-research-service/internal/engine"
	"github.com/scholarpipe/deep-research-service/internal/executor"
	"github.com/scholarpipe/deep-research-service/internal/lock"
	"github.com/scholarpipe/deep-research-service/internal/observability"
	"github.com/scholarpipe/deep-research-service/internal/repository"
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
	logger = logger.With().Str("component", "poller").Logger()
	logger.Info().Msg("deep-research-service poller starting")

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

	// Create repositories.
	runRepo := repository.NewPgRunRepository(db)
	stepRepo := repository.NewPgStepRepository(db)
	citationRepo := repository.NewPgCitationRepository(db)

	// Create metrics.
	metrics := observability.NewMetrics("deep_research_poller")

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

	// Advisory locks keep provider lanes and sessions mutually exclusive
	// across every poller and server process sharing the database.
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

	// Per-run throttle shared by every tick path in this process.
	throttle := dispatch.NewMemoryThrottle(cfg.Dispatch.ThrottleInterval)

	// Build the dispatch pipeline. With Kafka the scanner produces tick jobs
	// and a consumer group executes them; without it the scanner ticks runs
	// in-process.
	var enqueuer dispatch.Enqueuer
	var consumer *dispatch.Consumer
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

		consumer = dispatch.NewConsumer(dispatch.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.TickTopic,
			GroupID: cfg.Kafka.ConsumerGroup,
			Workers: cfg.Dispatch.Workers,
		}, eng, throttle, metrics, logger)
		defer func() {
			if closeErr := consumer.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close tick consumer")
			}
		}()
	} else {
		enqueuer = dispatch.NewInlineEnqueuer(eng, throttle, logger)
	}

	scanner := dispatch.NewScanner(dispatch.ScannerConfig{
		PollInterval: cfg.Dispatch.PollInterval,
	}, runRepo, enqueuer, logger)

	// Set up Prometheus metrics handler if configured.
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
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	// Start the tick consumer in background if Kafka is enabled.
	if consumer != nil {
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("tick consumer error")
			}
		}()
	}

	logger.Info().
		Dur("poll_interval", cfg.Dispatch.PollInterval).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("deep-research-service poller is ready")

	// Run the scanner in the foreground until the context is cancelled.
	if err := scanner.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	logger.Info().Msg("shutting down poller")

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("poller shutdown complete")
	return nil
}
