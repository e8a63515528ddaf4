package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/courseloft/api/internal/services"
)

// PubSubAnalyticsPublisher publishes tracking events to a Pub/Sub topic.
type PubSubAnalyticsPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubAnalyticsPublisher constructs a Pub/Sub backed analytics publisher.
func NewPubSubAnalyticsPublisher(topic *pubsub.Topic) (*PubSubAnalyticsPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub analytics publisher: topic is required")
	}
	return &PubSubAnalyticsPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishEvent enqueues a tracking event message on the configured topic.
func (p *PubSubAnalyticsPublisher) PublishEvent(ctx context.Context, event services.AnalyticsEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub analytics publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal analytics event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "event", event.Name)
	setAttr(attrs, "userEmail", event.UserEmail)
	setAttr(attrs, "orderId", event.OrderID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish analytics event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
