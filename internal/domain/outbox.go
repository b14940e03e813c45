package domain

import "time"

// Типы агрегатов и событий, публикуемых через outbox.
const (
	AggregateOrder = "order"
	AggregateCart  = "cart"

	EventOrderPlaced        = "order.placed"
	EventReservationExpired = "reservation.expired"
)

// OutboxStatus — состояние записи outbox.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OrderPlacedPayload — тело события order.placed.
type OrderPlacedPayload struct {
	OrderID  string            `json:"order_id"`
	UserID   string            `json:"user_id"`
	CartID   string            `json:"cart_id"`
	Total    string            `json:"total"`
	Items    []OrderPlacedLine `json:"items"`
	PlacedAt time.Time         `json:"placed_at"`
}

// OrderPlacedLine — позиция в событии order.placed.
type OrderPlacedLine struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

// ReservationExpiredPayload — тело события reservation.expired.
type ReservationExpiredPayload struct {
	ItemID     string    `json:"item_id"`
	CartID     string    `json:"cart_id"`
	VariantID  string    `json:"variant_id"`
	Quantity   int       `json:"quantity"`
	ExpiredAt  time.Time `json:"expired_at"`
	ReleasedAt time.Time `json:"released_at"`
}
