// Package fanout forwards newly stored events to Kafka for downstream
// consumers. It is optional and never affects ingestion.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/eventgate/internal/config"
	"github.com/kiranshivaraju/eventgate/internal/metrics"
	"github.com/kiranshivaraju/eventgate/pkg/models"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per event, keyed by account so that an
// account's events stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
}

// NewKafkaWriter builds an async writer. Delivery failures are reported
// through the completion callback.
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				metrics.FanoutFailures.Add(float64(len(messages)))
				slog.Error("kafka write failed", "message_count", len(messages), "error", err)
			}
		},
	}
}

func NewKafkaPublisher(w MessageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *models.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", event.EventID, err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.Account),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "tipo", Value: []byte(event.Type)},
			{Key: "origen", Value: []byte(event.Origin)},
		},
		Time: event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing event %s: %w", event.EventID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		slog.Error("failed to close kafka writer", "error", err)
		return err
	}
	slog.Info("kafka publisher closed")
	return nil
}
