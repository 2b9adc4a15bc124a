// internal/services/event_publisher.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/models"
)

const (
	EventApplicationSubmitted = "application.submitted"
	EventApplicationStatus    = "application.status_changed"
	EventPaymentResolved      = "payment.resolved"
	EventCertificateIssued    = "certificate.issued"
	EventCertificateRevoked   = "certificate.revoked"
)

// Event is the envelope written to the event stream.
type Event struct {
	Type       string                 `json:"type"`
	Key        string                 `json:"key"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
	}

	logrus.WithField("brokers", cfg.Brokers).Info("Kafka event publisher created")
	return &KafkaPublisher{writer: writer, topic: cfg.Topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal event: %v", ErrPermanent, err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Key),
		Value: data,
	}); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", event.Type, p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// EventService stages domain events in the outbox and publishes them from the worker.
// With no publisher it drops events.
type EventService struct {
	outbox    *OutboxService
	publisher EventPublisher
}

func NewEventService(outbox *OutboxService, publisher EventPublisher) *EventService {
	s := &EventService{outbox: outbox, publisher: publisher}
	if publisher != nil {
		outbox.Register(models.OutboxKindEvent, s.publishTask)
	}
	return s
}

func (s *EventService) Enabled() bool {
	return s != nil && s.publisher != nil
}

// Emit stages an event in tx so it commits or rolls back with the state change it describes.
func (s *EventService) Emit(tx *gorm.DB, eventType, key string, data map[string]interface{}) error {
	if !s.Enabled() {
		return nil
	}

	payload := models.JSONB{
		"type":        eventType,
		"key":         key,
		"occurred_at": time.Now().UTC().Format(time.RFC3339Nano),
		"data":        data,
	}
	if err := s.outbox.Enqueue(tx.Statement.Context, tx, models.OutboxKindEvent, payload); err != nil {
		return fmt.Errorf("failed to queue %s event: %w", eventType, err)
	}
	return nil
}

func (s *EventService) publishTask(ctx context.Context, task *models.OutboxTask) error {
	occurredAt, err := time.Parse(time.RFC3339Nano, task.Payload.String("occurred_at"))
	if err != nil {
		occurredAt = task.CreatedAt
	}
	data, _ := task.Payload["data"].(map[string]interface{})

	return s.publisher.Publish(ctx, Event{
		Type:       task.Payload.String("type"),
		Key:        task.Payload.String("key"),
		OccurredAt: occurredAt,
		Data:       data,
	})
}
