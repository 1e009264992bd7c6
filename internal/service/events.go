package service

import (
	"context"
	"encoding/json"
	"time"

	"mentorship/internal/model"
	"mentorship/internal/pubsub"

	"github.com/rs/zerolog"
)

const (
	EventSessionStatusChanged = "session.status_changed"
	EventSubscriptionRenewed  = "subscription.renewed"
	EventSubscriptionEnded    = "subscription.ended"
	EventTrialExpired         = "subscription.trial_expired"
)

// LifecycleEvent is published after every committed state change so that
// downstream consumers (email, analytics) can react.
type LifecycleEvent struct {
	Type           string                   `json:"type"`
	BookingID      string                   `json:"booking_id,omitempty"`
	UserID         string                   `json:"user_id,omitempty"`
	PreviousStatus model.SessionStatus      `json:"previous_status,omitempty"`
	NewStatus      model.SessionStatus      `json:"new_status,omitempty"`
	IsDelayed      bool                     `json:"is_delayed,omitempty"`
	Subscription   model.SubscriptionStatus `json:"subscription_status,omitempty"`
	OccurredAt     time.Time                `json:"occurred_at"`
}

// eventSink publishes lifecycle events; failures are logged and swallowed
// because the state change they describe is already committed.
type eventSink struct {
	publisher pubsub.Publisher
	topic     string
	logger    zerolog.Logger
}

func (e eventSink) emit(ctx context.Context, evt LifecycleEvent) {
	if e.publisher == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		e.logger.Error().Err(err).Str("event_type", evt.Type).Msg("Failed to marshal lifecycle event")
		return
	}
	if _, err := e.publisher.Publish(ctx, e.topic, payload); err != nil {
		e.logger.Warn().Err(err).Str("event_type", evt.Type).Msg("Failed to publish lifecycle event")
	}
}
