// Package jobs publishes order lifecycle events for downstream consumers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/changerplanet/WebWaka2-sub010/internal/services"
)

// PubSubOrderEventPublisher publishes order events with the order id as ordering key,
// so consumers see each order's events in emission order.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.EventPublisher = (*PubSubOrderEventPublisher)(nil)

func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderEventPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishOrderEvent blocks until the server acknowledges the message.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}
	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string, 4)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "tenantId", event.TenantID)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", event.Status)

	orderingKey := strings.TrimSpace(event.OrderID)
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderingKey,
	})
	if _, err := result.Get(ctx); err != nil {
		if orderingKey != "" {
			p.topic.ResumePublish(orderingKey)
		}
		return fmt.Errorf("publish order event %s: %w", event.Type, err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubOrderEventPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
