package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/scholarpipe/deep-research-service/internal/domain"
	"github.com/scholarpipe/deep-research-service/internal/engine"
	"github.com/scholarpipe/deep-research-service/internal/observability"
)

// PublisherConfig holds configuration for the run event publisher.
type PublisherConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic run lifecycle events are published to.
	Topic string
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int
	// BatchTimeout is the maximum time to wait for a batch to fill.
	BatchTimeout time.Duration
}

// Compile-time interface verification.
var _ engine.EventPublisher = (*KafkaPublisher)(nil)

// KafkaPublisher publishes run lifecycle events to Kafka. Messages are keyed
// by run ID so each run's events stay ordered within a partition.
type KafkaPublisher struct {
	writer  *kafka.Writer
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewKafkaPublisher creates a new run event publisher.
func NewKafkaPublisher(cfg PublisherConfig, metrics *observability.Metrics, logger zerolog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}

	return &KafkaPublisher{
		writer:  writer,
		metrics: metrics,
		logger:  logger.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish writes one run lifecycle event to the events topic.
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.RunEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordEventFailed(event.EventType)
		}
		return fmt.Errorf("marshal run event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.RunID.String()),
		Value: value,
	})
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordEventFailed(event.EventType)
		}
		return fmt.Errorf("publish run event: %w", err)
	}

	if p.metrics != nil {
		p.metrics.RecordEventPublished(event.EventType)
	}

	p.logger.Debug().
		Str("event_type", event.EventType).
		Str("run_id", event.RunID.String()).
		Msg("run event published")

	return nil
}

// Close closes the Kafka writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info().Msg("closing event publisher")
	return p.writer.Close()
}

// LogPublisher logs run lifecycle events instead of publishing them. Used
// when Kafka is disabled.
type LogPublisher struct {
	logger zerolog.Logger
}

// Compile-time interface verification.
var _ engine.EventPublisher = (*LogPublisher)(nil)

// NewLogPublisher creates a publisher that writes events to the log.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{
		logger: logger.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish logs the event.
func (p *LogPublisher) Publish(_ context.Context, event domain.RunEvent) error {
	p.logger.Info().
		Str("event_type", event.EventType).
		Str("run_id", event.RunID.String()).
		Str("session_id", event.SessionID.String()).
		Str("provider", string(event.Provider)).
		Msg("run event")
	return nil
}
