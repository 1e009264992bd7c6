package service

import (
	"context"
	"encoding/json"

	"mentorship/internal/model"
	"mentorship/internal/pubsub"
	"mentorship/internal/repository"

	"github.com/rs/zerolog"
)

// dlqPublisher stores every message its inner publisher fails to deliver in
// the dead-letter table. The publish error is still returned to the caller.
type dlqPublisher struct {
	next   pubsub.Publisher
	repo   repository.DLQRepository
	logger zerolog.Logger
}

func NewDLQPublisher(next pubsub.Publisher, repo repository.DLQRepository, logger zerolog.Logger) pubsub.Publisher {
	return &dlqPublisher{next: next, repo: repo, logger: logger.With().Str("service", "DLQPublisher").Logger()}
}

func (p *dlqPublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	id, err := p.next.Publish(ctx, topic, payload)
	if err == nil {
		return id, nil
	}

	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(payload, &head)

	msg := &model.DeadLetterMessage{
		Topic:     topic,
		EventType: head.Type,
		Payload:   string(payload),
		LastError: err.Error(),
		Status:    model.DeadLetterUnprocessed,
	}
	// the state change is already committed, so the write must outlive a
	// cancelled request
	if saveErr := p.repo.Create(context.WithoutCancel(ctx), msg); saveErr != nil {
		p.logger.Error().Err(saveErr).Str("event_type", head.Type).Msg("Failed to store dead letter; event lost")
	} else {
		p.logger.Warn().Str("dead_letter_id", msg.ID).Str("event_type", head.Type).Msg("Event stored as dead letter")
	}
	return "", err
}
