package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
)

// StripeService is the Stripe-backed BillingProvider.
type StripeService struct {
	get    func(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	update func(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	logger zerolog.Logger
}

// NewStripeService initializes the Stripe key and returns a provider with a scoped logger
func NewStripeService(secretKey string, logger zerolog.Logger) *StripeService {
	stripe.Key = secretKey
	return &StripeService{
		get:    subscriptionpkg.Get,
		update: subscriptionpkg.Update,
		logger: logger.With().Str("service", "StripeService").Logger(),
	}
}

// FetchState retrieves the subscription and maps its status.
func (s *StripeService) FetchState(ctx context.Context, subscriptionRef string) (ProviderState, string, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := s.get(subscriptionRef, params)
	if err != nil {
		s.logger.Error().Err(err).Str("subscription_id", subscriptionRef).Msg("Failed to fetch Stripe subscription")
		return "", "", fmt.Errorf("fetch stripe subscription %s: %w", subscriptionRef, err)
	}
	s.logger.Debug().Str("subscription_id", subscriptionRef).Str("status", string(sub.Status)).Msg("Fetched Stripe subscription")
	return stripeState(sub), string(sub.Status), nil
}

// CancelAtPeriodEnd flags the subscription to end with the current period.
func (s *StripeService) CancelAtPeriodEnd(ctx context.Context, subscriptionRef string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	if _, err := s.update(subscriptionRef, params); err != nil {
		s.logger.Error().Err(err).Str("subscription_id", subscriptionRef).Msg("Failed to cancel Stripe subscription at period end")
		return fmt.Errorf("cancel stripe subscription %s: %w", subscriptionRef, err)
	}
	return nil
}

func stripeState(sub *stripe.Subscription) ProviderState {
	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		// A subscription scheduled to cancel is still paid through the
		// current period but will not renew.
		if sub.CancelAtPeriodEnd {
			return ProviderCancelled
		}
		return ProviderActive
	case stripe.SubscriptionStatusCanceled:
		return ProviderCancelled
	case stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusIncompleteExpired:
		return ProviderPaymentFailed
	default:
		return ProviderPending
	}
}
