package broker

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/transitline/booking-backend/internal/models"
)

// EventPublisher publishes order lifecycle events. It tolerates running
// without a broker: with a nil producer every publish is a silent no-op, so
// deployments that have no Kafka simply skip the stream. Publish failures
// are logged and swallowed; the order state in Postgres is the source of
// truth and a lost event must never fail a booking.
type EventPublisher struct {
	producer *Producer
	logger   *logrus.Logger
}

// NewEventPublisher creates a new event publisher. producer may be nil.
func NewEventPublisher(producer *Producer, logger *logrus.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, logger: logger}
}

func (ep *EventPublisher) publish(ctx context.Context, key string, event interface{}) {
	if ep == nil || ep.producer == nil {
		return
	}
	if err := ep.producer.PublishEvent(ctx, key, event); err != nil {
		ep.logger.WithError(err).WithField("key", key).Warn("Failed to publish event")
	}
}

// PublishOrderCreated publishes an OrderCreated event.
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) {
	ep.publish(ctx, "order-"+event.OrderID.String(), event)
}

// PublishOrderPaid publishes an OrderPaid event.
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) {
	ep.publish(ctx, "order-"+event.OrderID.String(), event)
}

// PublishOrderCancelled publishes an OrderCancelled event.
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) {
	ep.publish(ctx, "order-"+event.OrderID.String(), event)
}

// PublishOrderCompleted publishes an OrderCompleted event.
func (ep *EventPublisher) PublishOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) {
	ep.publish(ctx, "order-"+event.OrderID.String(), event)
}

// PublishOrderReviewed publishes an OrderReviewed event.
func (ep *EventPublisher) PublishOrderReviewed(ctx context.Context, event *models.OrderReviewedEvent) {
	ep.publish(ctx, "order-"+event.OrderID.String(), event)
}

// PublishOrderExpired publishes an OrderExpired event.
func (ep *EventPublisher) PublishOrderExpired(ctx context.Context, event *models.OrderExpiredEvent) {
	ep.publish(ctx, "order-"+event.OrderID.String(), event)
}
