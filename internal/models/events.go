package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted on the order lifecycle stream.
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
	EventTypeOrderCompleted = "ORDER_COMPLETED"
	EventTypeOrderReviewed  = "ORDER_REVIEWED"
	EventTypeOrderExpired   = "ORDER_EXPIRED"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event envelope.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// OrderCreatedEvent is published when seats were reserved and the order
// record persisted.
type OrderCreatedEvent struct {
	BaseEvent
	OrderID        uuid.UUID `json:"order_id"`
	OrderNumber    string    `json:"order_number"`
	UserID         uuid.UUID `json:"user_id"`
	RouteID        string    `json:"route_id"`
	ScheduleID     string    `json:"schedule_id"`
	TravelDate     string    `json:"travel_date"`
	PassengerCount int       `json:"passenger_count"`
	TotalPrice     float64   `json:"total_price"`
}

// OrderPaidEvent is published when a pending order records payment.
type OrderPaidEvent struct {
	BaseEvent
	OrderID       uuid.UUID     `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	Method        PaymentMethod `json:"method"`
	TransactionID string        `json:"transaction_id"`
	Amount        float64       `json:"amount"`
}

// OrderCancelledEvent is published when an order is cancelled and its
// seats released. Refunded is true when the cancellation recorded a
// refund intent for a previously paid order.
type OrderCancelledEvent struct {
	BaseEvent
	OrderID      uuid.UUID `json:"order_id"`
	OrderNumber  string    `json:"order_number"`
	Reason       string    `json:"reason"`
	Refunded     bool      `json:"refunded"`
	RefundAmount float64   `json:"refund_amount,omitempty"`
}

// OrderCompletedEvent is published when a trip finishes.
type OrderCompletedEvent struct {
	BaseEvent
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
}

// OrderReviewedEvent is published when a review is folded into the route
// rating.
type OrderReviewedEvent struct {
	BaseEvent
	OrderID uuid.UUID `json:"order_id"`
	RouteID string    `json:"route_id"`
	Rating  int       `json:"rating"`
}

// OrderExpiredEvent is published when the background sweep cancels a
// pending order that was never paid.
type OrderExpiredEvent struct {
	BaseEvent
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	PendingFor  string    `json:"pending_for"`
}
