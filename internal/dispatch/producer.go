package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// ProducerConfig holds configuration for the tick job producer.
type ProducerConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic carrying tick jobs.
	Topic string
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int
	// BatchTimeout is the maximum time to wait for a batch to fill.
	BatchTimeout time.Duration
}

// Compile-time interface verification.
var _ Enqueuer = (*Producer)(nil)

// Producer writes tick jobs to the tick topic. Messages are keyed by run ID
// so passes for the same run land on the same partition and stay ordered.
type Producer struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewProducer creates a new tick job producer.
func NewProducer(cfg ProducerConfig, logger zerolog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &Producer{
		writer: writer,
		logger: logger.With().Str("component", "tick_producer").Logger(),
	}
}

// Enqueue writes one tick job to the tick topic.
func (p *Producer) Enqueue(ctx context.Context, job TickJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal tick job: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.RunID.String()),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("write tick job: %w", err)
	}

	p.logger.Debug().
		Str("run_id", job.RunID.String()).
		Str("reason", job.Reason).
		Msg("tick job enqueued")

	return nil
}

// Close closes the Kafka writer.
func (p *Producer) Close() error {
	p.logger.Info().Msg("closing tick producer")
	return p.writer.Close()
}

// InlineEnqueuer runs tick jobs synchronously against the engine instead of
// producing them to Kafka. Used when Kafka dispatch is disabled.
type InlineEnqueuer struct {
	ticker   Ticker
	throttle Throttle
	logger   zerolog.Logger
}

// Compile-time interface verification.
var _ Enqueuer = (*InlineEnqueuer)(nil)

// NewInlineEnqueuer creates an enqueuer that ticks runs in-process.
func NewInlineEnqueuer(ticker Ticker, throttle Throttle, logger zerolog.Logger) *InlineEnqueuer {
	return &InlineEnqueuer{
		ticker:   ticker,
		throttle: throttle,
		logger:   logger.With().Str("component", "inline_enqueuer").Logger(),
	}
}

// Enqueue performs one orchestration pass immediately, honoring the per-run
// throttle.
func (e *InlineEnqueuer) Enqueue(ctx context.Context, job TickJob) error {
	if !e.throttle.Allow(job.RunID) {
		return nil
	}

	result, err := e.ticker.Tick(ctx, job.RunID)
	if err != nil {
		return fmt.Errorf("tick run %s: %w", job.RunID, err)
	}

	if result.Done {
		e.throttle.Forget(job.RunID)
	}

	return nil
}
