package events

import (
	"context"
	"time"

	"reclock/pkg/kafka"
	kafka_config "reclock/pkg/kafka/config"
	kafka_middleware "reclock/pkg/kafka/middleware"
	"reclock/pkg/logger"
	"reclock/pkg/model"
)

const publishTimeout = 5 * time.Second

// KafkaPublisher publishes lock events keyed by the lock key so that all
// transitions of one record land on the same partition, in order.
type KafkaPublisher struct {
	producer *kafka.Producer
	source   string
	log      *logger.Logger
}

func NewKafkaPublisher(cfg *kafka_config.Config, topic, source string, log *logger.Logger) (*KafkaPublisher, error) {
	producer, err := kafka.NewProducer(cfg, topic)
	if err != nil {
		return nil, err
	}
	producer.Use(kafka_middleware.LoggingProducerMiddleware(log))

	return &KafkaPublisher{
		producer: producer,
		source:   source,
		log:      log,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event LockEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	key := string(event.EntityType)
	if event.EntityID != "" {
		key = model.SlotKey(event.EntityType, event.EntityID)
	}

	msg := kafka.NewMessage().
		WithKey(key).
		WithValue(event).
		WithEventType(event.EventType).
		WithSource(p.source).
		Build()

	// Detached from the request context: an aborted HTTP request must not
	// drop the audit record for a mutation that already committed.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.producer.Publish(publishCtx, msg); err != nil {
		p.log.Error("Failed to publish lock event",
			"event_type", event.EventType,
			"key", key,
			"error", err,
		)
	}
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
