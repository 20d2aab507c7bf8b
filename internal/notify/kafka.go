package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/events"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards every domain event to a topic, keyed by booking id so
// consumers see one booking's events in order.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

func NewKafkaSink(writer messageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, ev *events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(partitionKey(ev)),
		Value: data,
		Time:  ev.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	if s.writer != nil {
		return s.writer.Close()
	}
	return nil
}

func partitionKey(ev *events.Event) string {
	var ids struct {
		BookingID string `json:"booking_id"`
	}
	if err := json.Unmarshal(ev.Payload, &ids); err == nil && ids.BookingID != "" {
		return ids.BookingID
	}
	return ev.ID
}
