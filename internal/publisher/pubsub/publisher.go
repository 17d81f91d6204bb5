// Package pubsub publishes pipeline completion events to a Google Cloud
// Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
)

// Attributer lets a payload attach message attributes so consumers can filter
// on stage or run without decoding the body.
type Attributer interface {
	MessageAttributes() map[string]string
}

// Publisher adapts a Pub/Sub topic publisher to schedule.Publisher. The
// underlying client is bound to one topic at construction; the topic argument
// on Publish is carried as an attribute for consumers that multiplex.
type Publisher struct {
	publisher *pubsub.Publisher
}

// New wraps the provided topic publisher.
func New(publisher *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

// Publish marshals the payload to JSON and publishes it, returning the
// server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	if topic != "" {
		msg.Attributes["topic"] = topic
	}
	if attr, ok := payload.(Attributer); ok {
		for k, v := range attr.MessageAttributes() {
			msg.Attributes[k] = v
		}
	}

	result := p.publisher.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
