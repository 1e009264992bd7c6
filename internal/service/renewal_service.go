package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mentorship/internal/lock"
	"mentorship/internal/model"
	"mentorship/internal/pubsub"
	"mentorship/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	renewalPassLock = "subscription-renewal-pass"
	trialPassLock   = "trial-expiry-pass"
)

type RenewalError struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type RenewalPassResult struct {
	Processed int            `json:"processed"`
	Renewed   int            `json:"renewed"`
	Expired   int            `json:"expired"`
	Errored   int            `json:"errored"`
	Skipped   int            `json:"skipped"`
	Errors    []RenewalError `json:"errors"`
}

type TrialExpiryResult struct {
	Processed int            `json:"processed"`
	Expired   int            `json:"expired"`
	Errors    []RenewalError `json:"errors"`
}

type RenewalService interface {
	// RunRenewalPass renews or ends every subscription whose billing date
	// has arrived, according to the billing provider.
	RunRenewalPass(ctx context.Context) (*RenewalPassResult, error)
	// RunTrialExpiryPass deactivates trials whose end date has passed.
	RunTrialExpiryPass(ctx context.Context) (*TrialExpiryResult, error)
}

type RenewalConfig struct {
	Concurrency     int
	LeaseTTL        time.Duration
	ProviderTimeout time.Duration
	LockTTL         time.Duration
	EventsTopic     string
}

type renewalService struct {
	users    repository.UserRepository
	provider BillingProvider
	locker   lock.Locker
	events   eventSink
	cfg      RenewalConfig
	now      func() time.Time
	logger   zerolog.Logger
}

func NewRenewalService(users repository.UserRepository, provider BillingProvider, locker lock.Locker, publisher pubsub.Publisher, cfg RenewalConfig, logger zerolog.Logger) RenewalService {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10 * time.Minute
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	lg := logger.With().Str("service", "RenewalService").Logger()
	return &renewalService{
		users:    users,
		provider: provider,
		locker:   locker,
		events:   eventSink{publisher: publisher, topic: cfg.EventsTopic, logger: lg},
		cfg:      cfg,
		now:      time.Now,
		logger:   lg,
	}
}

type renewalOutcome int

const (
	outcomeSkipped renewalOutcome = iota
	outcomeRenewed
	outcomeExpired
	outcomeErrored
)

func (s *renewalService) acquire(ctx context.Context, name string) (func(), error) {
	release, err := s.locker.TryLock(ctx, name, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, ErrPassInProgress
		}
		return nil, fmt.Errorf("acquire %s lock: %w", name, err)
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Str("lock", name).Msg("Failed to release pass lock")
		}
	}, nil
}

func (s *renewalService) RunRenewalPass(ctx context.Context) (*RenewalPassResult, error) {
	unlock, err := s.acquire(ctx, renewalPassLock)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now().UTC()
	due, err := s.users.ListDueForRenewal(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list users due for renewal")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// one owner token per pass; every lease taken below carries it
	owner := uuid.New()
	result := &RenewalPassResult{Errors: []RenewalError{}}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		u := due[i]
		g.Go(func() error {
			outcome, msg := s.renewOne(ctx, u.UserID, owner, now)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSkipped:
				result.Skipped++
				return nil
			case outcomeRenewed:
				result.Renewed++
			case outcomeExpired:
				result.Expired++
			case outcomeErrored:
				result.Errored++
				result.Errors = append(result.Errors, RenewalError{UserID: u.UserID, Message: msg})
			}
			result.Processed++
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().
		Int("due", len(due)).
		Int("processed", result.Processed).
		Int("renewed", result.Renewed).
		Int("expired", result.Expired).
		Int("errored", result.Errored).
		Int("skipped", result.Skipped).
		Msg("Subscription renewal pass finished")
	return result, nil
}

// renewOne handles a single user under the renewal lease. The returned
// message is set only for outcomeErrored.
func (s *renewalService) renewOne(ctx context.Context, userID string, owner uuid.UUID, now time.Time) (renewalOutcome, string) {
	lg := s.logger.With().Str("user_id", userID).Logger()

	u, err := s.users.ClaimRenewal(ctx, userID, owner, now, s.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, repository.ErrLeaseHeld) {
			lg.Info().Msg("Skipping renewal: lease held elsewhere or no longer due")
			return outcomeSkipped, ""
		}
		lg.Error().Err(err).Msg("Failed to claim renewal lease")
		return outcomeErrored, fmt.Sprintf("%v: %v", ErrPersistence, err)
	}
	sub := u.Subscription

	if sub.ExternalSubscriptionID == nil || *sub.ExternalSubscriptionID == "" {
		s.release(ctx, userID, owner, lg)
		lg.Warn().Msg("Due subscription has no external subscription reference")
		return outcomeErrored, "no external subscription reference"
	}
	ref := *sub.ExternalSubscriptionID

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	state, raw, err := s.provider.FetchState(pctx, ref)
	cancel()
	if err != nil {
		s.release(ctx, userID, owner, lg)
		lg.Error().Err(err).Str("subscription_id", ref).Msg("Billing provider call failed; subscription left unchanged")
		return outcomeErrored, fmt.Sprintf("%v: %v", ErrExternalProvider, err)
	}

	switch state {
	case ProviderActive:
		period := model.BillingMonthly
		if sub.BillingPeriod != nil && sub.BillingPeriod.Valid() {
			period = *sub.BillingPeriod
		}
		base := now
		if sub.NextBillingDate != nil {
			base = *sub.NextBillingDate
		}
		next := period.Next(base)
		if err := s.users.CompleteRenewal(ctx, userID, owner, next, now); err != nil {
			lg.Error().Err(err).Msg("Failed to record renewal")
			return outcomeErrored, fmt.Sprintf("%v: %v", ErrPersistence, err)
		}
		lg.Info().Time("next_billing_date", next).Str("billing_period", string(period)).Msg("Subscription renewed")
		s.events.emit(ctx, LifecycleEvent{Type: EventSubscriptionRenewed, UserID: userID, Subscription: model.SubscriptionActive, OccurredAt: now})
		return outcomeRenewed, ""

	case ProviderCancelled, ProviderPaymentFailed:
		status := model.SubscriptionInactive
		if state == ProviderPaymentFailed {
			status = model.SubscriptionExpired
		}
		if err := s.users.EndSubscription(ctx, userID, owner, status, now); err != nil {
			lg.Error().Err(err).Msg("Failed to end subscription")
			return outcomeErrored, fmt.Sprintf("%v: %v", ErrPersistence, err)
		}
		lg.Info().Str("provider_status", raw).Str("status", string(status)).Msg("Subscription ended")
		s.events.emit(ctx, LifecycleEvent{Type: EventSubscriptionEnded, UserID: userID, Subscription: status, OccurredAt: now})
		return outcomeExpired, ""

	default:
		s.release(ctx, userID, owner, lg)
		lg.Warn().Str("provider_status", raw).Msg("Billing provider reports an unsettled subscription; left unchanged")
		return outcomeErrored, fmt.Sprintf("billing provider reports subscription %s as %q", ref, raw)
	}
}

func (s *renewalService) release(ctx context.Context, userID string, owner uuid.UUID, lg zerolog.Logger) {
	if err := s.users.ReleaseRenewal(context.WithoutCancel(ctx), userID, owner); err != nil {
		// the lease expires on its own after LeaseTTL
		lg.Warn().Err(err).Msg("Failed to release renewal lease")
	}
}

func (s *renewalService) RunTrialExpiryPass(ctx context.Context) (*TrialExpiryResult, error) {
	unlock, err := s.acquire(ctx, trialPassLock)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now().UTC()
	users, err := s.users.ListExpiredTrials(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list expired trials")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	result := &TrialExpiryResult{Errors: []RenewalError{}}
	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		err := s.users.ExpireTrial(ctx, u.UserID, now)
		switch {
		case errors.Is(err, repository.ErrStaleState):
			// converted to a paid plan or expired by another run
			continue
		case err != nil:
			s.logger.Error().Err(err).Str("user_id", u.UserID).Msg("Failed to expire trial")
			result.Errors = append(result.Errors, RenewalError{UserID: u.UserID, Message: fmt.Sprintf("%v: %v", ErrPersistence, err)})
		default:
			result.Expired++
			s.events.emit(ctx, LifecycleEvent{Type: EventTrialExpired, UserID: u.UserID, Subscription: model.SubscriptionInactive, OccurredAt: now})
		}
		result.Processed++
	}

	s.logger.Info().Int("processed", result.Processed).Int("expired", result.Expired).Int("errored", len(result.Errors)).Msg("Trial expiry pass finished")
	return result, nil
}
