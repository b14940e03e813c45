package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka.
// При пустом fixedTopic topic выбирается по типу события.
type OutboxTopicPublisher struct {
	producer   *Producer
	fixedTopic string
	fallback   string
	now        func() time.Time
}

// NewOutboxPublisher создаёт паблишер, маршрутизирующий события по TopicFor.
func NewOutboxPublisher(producer *Producer, fallbackTopic string) *OutboxTopicPublisher {
	if fallbackTopic == "" {
		fallbackTopic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		fallback: fallbackTopic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewDLQPublisher создаёт паблишер, отправляющий всё в один topic (DLQ).
func NewDLQPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	return &OutboxTopicPublisher{
		producer:   producer,
		fixedTopic: topic,
		fallback:   topic,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// TopicFor возвращает topic, в который уйдёт событие eventType.
func (p *OutboxTopicPublisher) TopicFor(eventType string) string {
	if p.fixedTopic != "" {
		return p.fixedTopic
	}
	return TopicFor(eventType, p.fallback)
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	return p.producer.PublishEvent(
		p.TopicFor(event.EventType),
		key,
		NewEnvelope(event, p.now()),
		sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(event.EventType)},
		sarama.RecordHeader{Key: []byte(HeaderAggregateType), Value: []byte(event.AggregateType)},
	)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
