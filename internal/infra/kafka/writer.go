package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"paykit/internal/events"
	"paykit/internal/metrics"
)

const (
	DefaultBatchSize    = 100
	DefaultBatchTimeout = 100 * time.Millisecond
)

type Config struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
}

func NewWriter(cfg Config) *kafka.Writer {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = DefaultBatchTimeout
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              batchSize,
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           batchTimeout,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Sink publishes lifecycle events keyed by entity so that one request's or
// subscription's events stay on one partition, in order.
type Sink struct {
	writer MessageWriter
	logger *slog.Logger
}

func NewSink(writer MessageWriter, logger *slog.Logger) *Sink {
	return &Sink{writer: writer, logger: logger}
}

func (s *Sink) Write(ctx context.Context, evs ...events.Event) error {
	if len(evs) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(evs))
	for _, e := range evs {
		msgs = append(msgs, Message(e))
	}

	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("failed").Add(float64(len(msgs)))
		s.logger.Error("Failed to write events to Kafka", "count", len(msgs), "error", err)
		return fmt.Errorf("write events: %w", err)
	}

	metrics.EventsPublishedTotal.WithLabelValues("published").Add(float64(len(msgs)))
	s.logger.Debug("Events written to Kafka", "count", len(msgs))
	return nil
}

func Message(e events.Event) kafka.Message {
	return kafka.Message{
		Key:   []byte(e.EntityID),
		Value: events.Encode(e),
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "event_id", Value: []byte(e.ID)},
		},
	}
}
