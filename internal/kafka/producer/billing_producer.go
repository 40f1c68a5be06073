package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/billing-scheduler/internal/domain"
	"github.com/Dhoini/billing-scheduler/pkg/logger"
	"github.com/IBM/sarama"
)

// Publisher отправляет события биллинга внешним потребителям
type Publisher interface {
	Publish(ctx context.Context, event domain.BillingEvent) error
	Close() error
}

// TopicResolver возвращает топик для типа события
type TopicResolver func(domain.EventType) string

type kafkaBillingProducer struct {
	producer sarama.SyncProducer
	topic    TopicResolver
	log      *logger.Logger
}

// NewKafkaBillingProducer создает продюсер событий биллинга поверх SyncProducer
func NewKafkaBillingProducer(producer sarama.SyncProducer, topic TopicResolver, log *logger.Logger) Publisher {
	return &kafkaBillingProducer{
		producer: producer,
		topic:    topic,
		log:      log,
	}
}

// Publish публикует событие в топик, соответствующий его типу.
// Ключ сообщения: ID подписки, а для разовых платежей ID транзакции.
func (p *kafkaBillingProducer) Publish(ctx context.Context, event domain.BillingEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	messageValue, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal billing event: %w", err)
	}

	topic := p.topic(event.Type)
	message := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.Key()),
		Value: sarama.ByteEncoder(messageValue),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_type"),
				Value: []byte(event.Type),
			},
		},
		Timestamp: event.Timestamp,
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("failed to publish billing event: %w", err)
	}

	p.log.Debugw("Published billing event",
		"topic", topic, "key", event.Key(), "partition", partition, "offset", offset)

	return nil
}

// Close закрывает продюсер
func (p *kafkaBillingProducer) Close() error {
	return p.producer.Close()
}

type noopPublisher struct {
	log *logger.Logger
}

// NewNoopPublisher используется, когда Kafka отключена
func NewNoopPublisher(log *logger.Logger) Publisher {
	return &noopPublisher{log: log}
}

func (p *noopPublisher) Publish(_ context.Context, event domain.BillingEvent) error {
	p.log.Debugw("Kafka disabled, dropping event", "type", event.Type, "key", event.Key())
	return nil
}

func (p *noopPublisher) Close() error {
	return nil
}

// PublishAll отправляет события по порядку. Ошибки логируются и не прерывают
// отправку остальных: журнал уже зафиксирован, события вторичны.
func PublishAll(ctx context.Context, pub Publisher, events []domain.BillingEvent, log *logger.Logger) int {
	failed := 0
	for _, event := range events {
		publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := pub.Publish(publishCtx, event)
		cancel()
		if err != nil {
			failed++
			log.Errorw("Failed to publish billing event", "type", event.Type, "key", event.Key(), "error", err)
		}
	}
	return failed
}
