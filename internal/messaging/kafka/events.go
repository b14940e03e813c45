package kafka

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents       = "shopcart.order.events"
	TopicReservationEvents = "shopcart.reservation.events"
	TopicDeadLetterQueue   = "shopcart.dlq"
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
)

// TopicFor возвращает topic по префиксу типа события: order.* и reservation.*.
// Неизвестные события уходят в fallback.
func TopicFor(eventType, fallback string) string {
	switch {
	case strings.HasPrefix(eventType, "order."):
		return TopicOrderEvents
	case strings.HasPrefix(eventType, "reservation."):
		return TopicReservationEvents
	default:
		return fallback
	}
}

// Envelope: формат сообщения, публикуемого из outbox.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope упаковывает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		OccurredAt:    msg.CreatedAt,
		PublishedAt:   publishedAt,
	}
}
