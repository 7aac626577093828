package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/notifykit/notifykit/internal/config"
	"github.com/notifykit/notifykit/internal/notification"
)

// ScheduledMessage announces a notification queued for later delivery. The
// scheduler worker consumes these and replays the dispatch pipeline when the
// scheduled instant arrives.
type ScheduledMessage struct {
	NotificationID  string    `json:"notification_id"`
	RecipientUserID string    `json:"recipient_user_id"`
	TenantID        string    `json:"tenant_id,omitempty"`
	ScheduledFor    time.Time `json:"scheduled_for"`
	QueuedAt        time.Time `json:"queued_at"`
}

// Producer handles publishing scheduled notifications to Kafka
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// Consumer handles consuming scheduled notifications from Kafka
type Consumer struct {
	reader *kafka.Reader
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg config.KafkaConfig, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		Async:        false, // Synchronous for reliability
	}

	return &Producer{writer: writer, logger: logger}
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg config.KafkaConfig, groupID string, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     groupID,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
		StartOffset: kafka.LastOffset,
	})

	return &Consumer{reader: reader, logger: logger}
}

// PublishScheduled publishes a queued notification to the scheduler topic.
// Implements the orchestrator's SchedulePublisher.
func (p *Producer) PublishScheduled(ctx context.Context, n *notification.Notification) error {
	if n.ScheduledFor == nil {
		return fmt.Errorf("notification %s has no scheduled instant", n.ID)
	}

	msg := ScheduledMessage{
		NotificationID:  n.ID,
		RecipientUserID: n.RecipientUserID,
		TenantID:        n.TenantID,
		ScheduledFor:    *n.ScheduledFor,
		QueuedAt:        time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal scheduled message: %w", err)
	}

	kafkaMsg := kafka.Message{
		Key:   []byte(n.ID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "recipient", Value: []byte(n.RecipientUserID)},
		},
		Time: time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsg); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	p.logger.Debug("published scheduled notification",
		zap.String("id", n.ID),
		zap.Time("scheduled_for", *n.ScheduledFor),
	)
	return nil
}

// Consume reads scheduled messages until ctx is cancelled, invoking handler
// for each. Handler errors are logged and the loop continues.
func (c *Consumer) Consume(ctx context.Context, handler func(ScheduledMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Error("error reading message from Kafka", zap.Error(err))
				continue
			}

			var scheduled ScheduledMessage
			if err := json.Unmarshal(msg.Value, &scheduled); err != nil {
				c.logger.Error("error unmarshaling scheduled message", zap.Error(err))
				continue
			}

			if err := handler(scheduled); err != nil {
				c.logger.Error("error processing scheduled notification",
					zap.String("id", scheduled.NotificationID), zap.Error(err))
				continue
			}
		}
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
