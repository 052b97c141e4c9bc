// Package kafka adapts the notification queue onto Kafka topics: the webhook
// enqueues to the main topic, the worker consumes it through a consumer group
// and parks undeliverable notifications on a dead-letter topic.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/config"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
)

// Header keys set on queued and dead-lettered messages.
const (
	HeaderNotificationID = "notification_id"
	HeaderAspectType     = "aspect_type"
	HeaderObjectType     = "object_type"
	HeaderReceivedAt     = "received_at"

	HeaderDLQReason          = "dlq_reason"
	HeaderDLQAttempts        = "dlq_attempts"
	HeaderDLQSourceTopic     = "dlq_source_topic"
	HeaderDLQSourcePartition = "dlq_source_partition"
	HeaderDLQSourceOffset    = "dlq_source_offset"
	HeaderDLQAt              = "dlq_at"
)

// messageWriter is the subset of kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces notifications to the queue topic and parks failed
// deliveries on the dead-letter topic.
// It implements ingress.Enqueuer and pipeline.DeadLetter.
type Writer struct {
	queue  messageWriter
	dlq    messageWriter
	now    func() time.Time
	logger *slog.Logger
}

// NewWriter creates Kafka producers for the configured queue and dead-letter topics.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	return &Writer{
		queue:  newProducer(cfg.KafkaBrokers, cfg.KafkaTopic),
		dlq:    newProducer(cfg.KafkaBrokers, cfg.KafkaDLQTopic),
		now:    time.Now,
		logger: logger,
	}
}

func newProducer(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		// The webhook waits for the ack; do not linger for a batch to fill.
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Enqueue publishes a notification. raw is the body exactly as Strava sent it.
// Messages are keyed by activity id so notifications for one activity stay
// ordered within a partition.
func (w *Writer) Enqueue(ctx context.Context, n domain.WebhookNotification, raw []byte) error {
	msg := serializeToMessage(n, raw, uuid.NewString(), w.now())
	if err := w.queue.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	w.logger.Debug("notification enqueued",
		"notification_id", headerValue(msg.Headers, HeaderNotificationID),
		"activity_id", n.ObjectID,
		"aspect_type", n.AspectType,
	)
	return nil
}

// DeadLetter copies a delivery to the dead-letter topic with its failure reason.
func (w *Writer) DeadLetter(ctx context.Context, d domain.Delivery, reason string, attempts int) error {
	msg := deadLetterMessage(d, reason, attempts, w.now())
	if err := w.dlq.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

// Close flushes and closes both producers.
func (w *Writer) Close() error {
	qerr := w.queue.Close()
	derr := w.dlq.Close()
	if qerr != nil {
		return qerr
	}
	return derr
}

// serializeToMessage wraps a notification body in a Kafka message.
func serializeToMessage(n domain.WebhookNotification, raw []byte, id string, receivedAt time.Time) kafkago.Message {
	return kafkago.Message{
		Key:   []byte(n.Key()),
		Value: raw,
		Headers: []kafkago.Header{
			{Key: HeaderNotificationID, Value: []byte(id)},
			{Key: HeaderAspectType, Value: []byte(n.AspectType)},
			{Key: HeaderObjectType, Value: []byte(n.ObjectType)},
			{Key: HeaderReceivedAt, Value: []byte(receivedAt.UTC().Format(time.RFC3339))},
		},
	}
}

func deadLetterMessage(d domain.Delivery, reason string, attempts int, at time.Time) kafkago.Message {
	headers := make([]kafkago.Header, 0, len(d.Headers)+6)
	for k, v := range d.Headers {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers,
		kafkago.Header{Key: HeaderDLQReason, Value: []byte(reason)},
		kafkago.Header{Key: HeaderDLQAttempts, Value: []byte(strconv.Itoa(attempts))},
		kafkago.Header{Key: HeaderDLQSourceTopic, Value: []byte(d.Topic)},
		kafkago.Header{Key: HeaderDLQSourcePartition, Value: []byte(strconv.Itoa(d.Partition))},
		kafkago.Header{Key: HeaderDLQSourceOffset, Value: []byte(strconv.FormatInt(d.Offset, 10))},
		kafkago.Header{Key: HeaderDLQAt, Value: []byte(at.UTC().Format(time.RFC3339))},
	)
	return kafkago.Message{Key: d.Key, Value: d.Payload, Headers: headers}
}

func headerValue(headers []kafkago.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
