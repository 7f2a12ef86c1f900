package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/config"
)

const sourceService = "ml-service"

// messageWriter is the subset of *kafka.Writer used by the publisher
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes task events and transaction events to separate topics.
// Messages are keyed by user id so a user's events stay ordered.
type KafkaPublisher struct {
	tasks        messageWriter
	transactions messageWriter
	timeout      time.Duration
	logger       *zap.Logger
}

// NewKafkaPublisher creates a publisher with one writer per topic
func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		}
	}

	return &KafkaPublisher{
		tasks:        newWriter(cfg.Topics.Tasks),
		transactions: newWriter(cfg.Topics.Transactions),
		timeout:      cfg.WriteTimeout,
		logger:       logger,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	writer := p.tasks
	if event.Type == TransactionCreated {
		writer = p.transactions
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.UserID.String()),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "source-service", Value: []byte(sourceService)},
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	p.logger.Debug("Event published",
		zap.String("event_type", string(event.Type)),
		zap.String("user_id", event.UserID.String()))
	return nil
}

// Close flushes and closes both writers
func (p *KafkaPublisher) Close() error {
	return errors.Join(p.tasks.Close(), p.transactions.Close())
}
