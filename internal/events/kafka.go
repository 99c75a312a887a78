package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaNotifier.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes events as JSON messages keyed by article id, so
// the events of one article land on the same partition in order.
type KafkaNotifier struct {
	writer MessageWriter
	logger *slog.Logger
}

// NewKafkaNotifier creates a synchronous producer for topic.
func NewKafkaNotifier(brokers []string, topic string, logger *slog.Logger) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	logger.Info("kafka notifier initialized", slog.Any("brokers", brokers), slog.String("topic", topic))
	return &KafkaNotifier{writer: w, logger: logger}
}

// NewKafkaNotifierWithWriter wraps an existing writer.
func NewKafkaNotifierWithWriter(w MessageWriter, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{writer: w, logger: logger}
}

// Notify writes e to the topic.
func (k *KafkaNotifier) Notify(ctx context.Context, e Event) error {
	msg, err := encodeMessage(e)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: write kafka message: %w", err)
	}
	k.logger.Debug("event produced", slog.String("type", e.Type), slog.String("article", e.ArticleID))
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

func encodeMessage(e Event) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("events: marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.ArticleID),
		Value: value,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}, nil
}
