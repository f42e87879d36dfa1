package broker

import (
	"context"
	"fmt"

	"storefront-service/internal/models"
)

// EventPublisher publishes the engine's domain events for downstream
// consumers (analytics, notifications). Events are keyed per store so that
// per-store ordering is preserved within a partition.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func storeKey(storeID string) string {
	return fmt.Sprintf("store-%s", storeID)
}

// PublishCartCheckedOut publishes CartCheckedOut
func (ep *EventPublisher) PublishCartCheckedOut(ctx context.Context, event *models.CartCheckedOutEvent) error {
	return ep.producer.PublishEvent(ctx, storeKey(event.StoreID), event)
}

// PublishCartExpired publishes CartExpired
func (ep *EventPublisher) PublishCartExpired(ctx context.Context, event *models.CartExpiredEvent) error {
	return ep.producer.PublishEvent(ctx, storeKey(event.StoreID), event)
}

// PublishOrderPaid publishes OrderPaid
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	return ep.producer.PublishEvent(ctx, storeKey(event.StoreID), event)
}

// PublishOrderRefunded publishes OrderRefunded
func (ep *EventPublisher) PublishOrderRefunded(ctx context.Context, event *models.OrderRefundedEvent) error {
	return ep.producer.PublishEvent(ctx, storeKey(event.StoreID), event)
}

// PublishInventoryAdjusted publishes InventoryAdjusted
func (ep *EventPublisher) PublishInventoryAdjusted(ctx context.Context, event *models.InventoryAdjustedEvent) error {
	return ep.producer.PublishEvent(ctx, storeKey(event.StoreID), event)
}
