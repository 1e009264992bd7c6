package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"mentorship/internal/config"
	"mentorship/internal/pgmq"

	"cloud.google.com/go/pubsub"
)

// Publisher defines an interface for publishing messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}

// PubSubPublisher is an implementation of Publisher using Google Pub/Sub.
type PubSubPublisher struct {
	client *pubsub.Client
}

// NewPublisher creates a new PubSubPublisher using the GCP project from config.
func NewPublisher(ctx context.Context, cfg *config.Config) (*PubSubPublisher, error) {
	if cfg.GCPProjectID == "" {
		return nil, errors.New("failed to create Pub/Sub client: GCP project ID is empty")
	}
	client, err := pubsub.NewClient(ctx, cfg.GCPProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return &PubSubPublisher{client: client}, nil
}

// Publish sends the payload to the given Pub/Sub topic and returns the message ID.
func (p *PubSubPublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	t := p.client.Topic(topic)
	result := t.Publish(ctx, &pubsub.Message{Data: payload})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *PubSubPublisher) Close() error {
	return p.client.Close()
}

// QueuePublisher publishes into a pgmq queue when Pub/Sub is not configured.
// The topic argument is ignored; every message goes to the configured queue.
type QueuePublisher struct {
	client *pgmq.Client
	queue  string
}

func NewQueuePublisher(client *pgmq.Client, queue string) *QueuePublisher {
	return &QueuePublisher{client: client, queue: queue}
}

func (p *QueuePublisher) Publish(ctx context.Context, _ string, payload []byte) (string, error) {
	id, err := p.client.Send(ctx, p.queue, payload)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}
