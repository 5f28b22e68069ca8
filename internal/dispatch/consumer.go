package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/scholarpipe/deep-research-service/internal/observability"
)

// ConsumerConfig holds configuration for the tick consumer.
type ConsumerConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic carrying tick jobs.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
	// Workers is the number of concurrent tick handlers.
	Workers int
}

// Consumer reads tick jobs from Kafka and runs orchestration passes.
type Consumer struct {
	reader   *kafka.Reader
	ticker   Ticker
	throttle Throttle
	metrics  *observability.Metrics
	workers  int
	logger   zerolog.Logger
}

// NewConsumer creates a new tick job consumer.
func NewConsumer(
	cfg ConsumerConfig,
	ticker Ticker,
	throttle Throttle,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Consumer{
		reader:   reader,
		ticker:   ticker,
		throttle: throttle,
		metrics:  metrics,
		workers:  workers,
		logger:   logger.With().Str("component", "tick_consumer").Logger(),
	}
}

// Run starts the consumer loop. Blocks until context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Int("workers", c.workers).Msg("starting tick consumer")

	sem := make(chan struct{}, c.workers)

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info().Msg("tick consumer stopped via context cancellation")
				return ctx.Err()
			}
			c.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		c.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received tick job")

		var job TickJob
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			c.logger.Error().Err(err).
				Str("raw_value", string(msg.Value)).
				Msg("failed to unmarshal tick job")
			continue
		}

		sem <- struct{}{}
		go func(job TickJob) {
			defer func() { <-sem }()
			c.handleJob(ctx, job)
		}(job)
	}
}

// handleJob runs one orchestration pass for the job's run, honoring the
// per-run throttle. Terminal runs have their throttle entry dropped.
func (c *Consumer) handleJob(ctx context.Context, job TickJob) {
	if job.RunID == uuid.Nil {
		c.logger.Warn().Msg("tick job without run ID, skipping")
		return
	}

	if !c.throttle.Allow(job.RunID) {
		c.logger.Debug().
			Str("run_id", job.RunID.String()).
			Msg("tick throttled")
		return
	}

	start := time.Now()
	result, err := c.ticker.Tick(ctx, job.RunID)
	if err != nil {
		c.logger.Error().Err(err).
			Str("run_id", job.RunID.String()).
			Msg("tick failed")
		return
	}

	if c.metrics != nil {
		c.metrics.RecordTick(string(result.State), time.Since(start).Seconds())
	}

	c.logger.Debug().
		Str("run_id", job.RunID.String()).
		Str("state", string(result.State)).
		Bool("done", result.Done).
		Msg("tick completed")

	if result.Done {
		c.throttle.Forget(job.RunID)
	}
}

// Close closes the Kafka reader.
func (c *Consumer) Close() error {
	c.logger.Info().Msg("closing tick consumer")
	return c.reader.Close()
}
