package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mentorship/internal/model"
	"mentorship/internal/repository"

	"github.com/rs/zerolog"
)

// SubscriptionService defines business logic methods for subscriptions.
type SubscriptionService interface {
	GetSubscription(ctx context.Context, userID string) (*model.Subscription, error)
	// StartTrial starts the one free trial a user is entitled to.
	StartTrial(ctx context.Context, userID string, plan model.Plan) (*model.Subscription, error)
	// CancelSubscription stops renewal; the plan stays active until the
	// current period ends.
	CancelSubscription(ctx context.Context, userID string) (*model.Subscription, error)
}

type subscriptionService struct {
	repo     repository.UserRepository
	provider BillingProvider
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewSubscriptionService creates a new SubscriptionService with a scoped logger.
func NewSubscriptionService(repo repository.UserRepository, provider BillingProvider, providerTimeout time.Duration, logger zerolog.Logger) SubscriptionService {
	if providerTimeout <= 0 {
		providerTimeout = defaultProviderTimeout
	}
	return &subscriptionService{
		repo:     repo,
		provider: provider,
		timeout:  providerTimeout,
		now:      time.Now,
		logger:   logger.With().Str("service", "SubscriptionService").Logger(),
	}
}

func (s *subscriptionService) user(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch user")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return u, nil
}

// GetSubscription returns the user's subscription regardless of status.
func (s *subscriptionService) GetSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &u.Subscription, nil
}

func (s *subscriptionService) StartTrial(ctx context.Context, userID string, plan model.Plan) (*model.Subscription, error) {
	if !plan.Valid() {
		return nil, fmt.Errorf("%w: unknown plan %q", ErrValidation, plan)
	}
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Subscription.TrialUsed {
		return nil, fmt.Errorf("%w: trial already used", ErrConflict)
	}
	if u.Subscription.Status == model.SubscriptionActive {
		return nil, fmt.Errorf("%w: a plan is already active", ErrConflict)
	}

	now := s.now().UTC()
	end := now.Add(model.TrialPeriod)
	if err := s.repo.StartTrial(ctx, userID, plan, now, end); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, fmt.Errorf("%w: subscription changed concurrently", ErrConflict)
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to start trial")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.logger.Info().Str("user_id", userID).Str("plan", string(plan)).Time("trial_end_date", end).Msg("Trial started")
	return s.GetSubscription(ctx, userID)
}

func (s *subscriptionService) CancelSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	sub := u.Subscription
	if sub.Status != model.SubscriptionActive {
		return nil, fmt.Errorf("%w: no active subscription", ErrConflict)
	}

	// the provider is told first so it never charges a subscription we
	// consider cancelled
	if sub.ExternalSubscriptionID != nil && *sub.ExternalSubscriptionID != "" {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.provider.CancelAtPeriodEnd(pctx, *sub.ExternalSubscriptionID)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExternalProvider, err)
		}
	}

	if err := s.repo.DisableAutoRenewal(ctx, userID, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, fmt.Errorf("%w: subscription changed concurrently", ErrConflict)
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to disable auto renewal")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.logger.Info().Str("user_id", userID).Msg("Subscription set to cancel at period end")
	return s.GetSubscription(ctx, userID)
}
