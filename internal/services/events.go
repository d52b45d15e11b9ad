package services

import (
	"context"
	"time"
)

// Order event types published after state changes commit.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderCancelled     = "order.cancelled"
	EventPaymentConfirmed   = "payment.confirmed"
	EventInventoryDeducted  = "inventory.deducted"
)

// OrderEvent is the notification emitted for downstream consumers.
type OrderEvent struct {
	Type           string    `json:"type"`
	TenantID       string    `json:"tenantId"`
	OrderID        string    `json:"orderId"`
	OrderNumber    string    `json:"orderNumber,omitempty"`
	SubOrderID     string    `json:"subOrderId,omitempty"`
	Status         string    `json:"status,omitempty"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// EventPublisher delivers order events. Delivery failures never roll back the committed change.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

type noopPublisher struct{}

func (noopPublisher) PublishOrderEvent(context.Context, OrderEvent) error { return nil }

// publishEvent sends the event and logs delivery failures.
func publishEvent(ctx context.Context, publisher EventPublisher, logger Logger, event OrderEvent) {
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish_failed", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"error":   err,
		})
	}
}
