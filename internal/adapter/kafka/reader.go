package kafka

import (
	"context"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/config"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
)

// messageReader is the subset of kafkago.Reader used here.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Reader consumes the queue topic through a consumer group. Offsets are
// committed explicitly by the returned delivery's Commit, never on fetch.
// It implements pipeline.Source.
type Reader struct {
	reader messageReader
	logger *slog.Logger
}

// NewReader creates a consumer-group reader for the queue topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Reader{reader: r, logger: logger}
}

// Receive blocks for the next message.
func (r *Reader) Receive(ctx context.Context) (domain.Delivery, error) {
	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("fetch message: %w", err)
	}

	d := mapMessageToDelivery(msg)
	d.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return d, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToDelivery converts a Kafka message into a domain delivery.
func mapMessageToDelivery(msg kafkago.Message) domain.Delivery {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	id := headers[HeaderNotificationID]
	if id == "" {
		id = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	}
	return domain.Delivery{
		ID:        id,
		Key:       msg.Key,
		Payload:   msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
