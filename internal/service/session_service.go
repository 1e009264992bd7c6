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

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const sessionPassLock = "session-status-pass"

// StatusUpdate records one committed booking transition.
type StatusUpdate struct {
	BookingID      string              `json:"booking_id"`
	PreviousStatus model.SessionStatus `json:"previous_status"`
	NewStatus      model.SessionStatus `json:"new_status"`
	IsDelayed      bool                `json:"is_delayed,omitempty"`
}

// PassFailure is a per-record error collected during a batch pass.
type PassFailure struct {
	RecordID string `json:"record_id"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

const (
	FailureConflict    = "conflict"
	FailurePersistence = "persistence"
	FailureProvider    = "provider"
)

type StatusPassResult struct {
	Updates  []StatusUpdate `json:"updates"`
	Failures []PassFailure  `json:"failures"`
}

type SessionService interface {
	// RunStatusPass moves every active booking whose time has come to its
	// next status. window optionally restricts the scan by scheduled start.
	RunStatusPass(ctx context.Context, window repository.BookingFilter) (*StatusPassResult, error)
	// The manual operations and GetSession act on behalf of callerID, who
	// must be the booking's user, its mentor or an admin.
	StartSession(ctx context.Context, bookingID, callerID string) (*model.SessionBooking, error)
	CompleteSession(ctx context.Context, bookingID, callerID string) (*model.SessionBooking, error)
	CancelSession(ctx context.Context, bookingID, callerID string) (*model.SessionBooking, error)
	GetSession(ctx context.Context, bookingID, callerID string) (*model.SessionBooking, error)
	BookSession(ctx context.Context, b *model.SessionBooking) (*model.SessionBooking, error)
}

type SessionConfig struct {
	// DelayGrace is how late past its start a session may be picked up by
	// the pass before it is flagged delayed.
	DelayGrace  time.Duration
	Concurrency int
	LockTTL     time.Duration
	EventsTopic string
}

type sessionService struct {
	repo   repository.BookingRepository
	users  repository.UserRepository
	locker lock.Locker
	events eventSink
	cfg    SessionConfig
	now    func() time.Time
	logger zerolog.Logger
}

func NewSessionService(repo repository.BookingRepository, users repository.UserRepository, locker lock.Locker, publisher pubsub.Publisher, cfg SessionConfig, logger zerolog.Logger) SessionService {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	lg := logger.With().Str("service", "SessionService").Logger()
	return &sessionService{
		repo:   repo,
		users:  users,
		locker: locker,
		events: eventSink{publisher: publisher, topic: cfg.EventsTopic, logger: lg},
		cfg:    cfg,
		now:    time.Now,
		logger: lg,
	}
}

func (s *sessionService) RunStatusPass(ctx context.Context, window repository.BookingFilter) (*StatusPassResult, error) {
	release, err := s.locker.TryLock(ctx, sessionPassLock, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, ErrPassInProgress
		}
		return nil, fmt.Errorf("acquire session pass lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to release session pass lock")
		}
	}()

	bookings, err := s.repo.ListActive(ctx, window)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list active bookings")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	now := s.now().UTC()
	result := &StatusPassResult{Updates: []StatusUpdate{}, Failures: []PassFailure{}}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i := range bookings {
		if ctx.Err() != nil {
			break
		}
		b := bookings[i]
		g.Go(func() error {
			updates, failure := s.advance(ctx, b, now)
			mu.Lock()
			defer mu.Unlock()
			result.Updates = append(result.Updates, updates...)
			if failure != nil {
				result.Failures = append(result.Failures, *failure)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().
		Int("scanned", len(bookings)).
		Int("updated", len(result.Updates)).
		Int("failed", len(result.Failures)).
		Msg("Session status pass finished")
	return result, nil
}

// advance applies transitions to b until none is due. A booking whose end
// has also passed goes SCHEDULED -> ONGOING -> COMPLETED in one pass, which
// keeps a repeated pass from finding more work.
func (s *sessionService) advance(ctx context.Context, b model.SessionBooking, now time.Time) ([]StatusUpdate, *PassFailure) {
	var updates []StatusUpdate
	cur := &b
	for {
		t, ok := s.dueTransition(cur, now)
		if !ok {
			return updates, nil
		}
		next, err := s.repo.Transition(ctx, cur.ID, cur.Status, t)
		if err != nil {
			s.logger.Warn().Err(err).Str("booking_id", cur.ID).Str("to", string(t.To)).Msg("Failed to transition booking")
			return updates, bookingFailure(cur.ID, err)
		}
		u := StatusUpdate{
			BookingID:      cur.ID,
			PreviousStatus: cur.Status,
			NewStatus:      next.Status,
			IsDelayed:      next.IsDelayed,
		}
		updates = append(updates, u)
		s.emitTransition(ctx, next, cur.Status, now)
		cur = next
	}
}

func (s *sessionService) dueTransition(b *model.SessionBooking, now time.Time) (repository.Transition, bool) {
	switch b.Status {
	case model.SessionScheduled:
		start := b.EffectiveStart()
		if now.Before(start) {
			return repository.Transition{}, false
		}
		delayed := now.Sub(start) > s.cfg.DelayGrace
		return repository.Transition{To: model.SessionOngoing, At: now, IsDelayed: &delayed}, true
	case model.SessionOngoing:
		if now.Before(b.EffectiveEnd()) {
			return repository.Transition{}, false
		}
		return repository.Transition{To: model.SessionCompleted, At: now, ActualEndTime: &now}, true
	}
	return repository.Transition{}, false
}

func bookingFailure(id string, err error) *PassFailure {
	kind := FailurePersistence
	if errors.Is(err, repository.ErrStaleState) {
		kind = FailureConflict
	}
	return &PassFailure{RecordID: id, Kind: kind, Message: err.Error()}
}

func (s *sessionService) emitTransition(ctx context.Context, b *model.SessionBooking, from model.SessionStatus, at time.Time) {
	s.events.emit(ctx, LifecycleEvent{
		Type:           EventSessionStatusChanged,
		BookingID:      b.ID,
		UserID:         b.UserID,
		PreviousStatus: from,
		NewStatus:      b.Status,
		IsDelayed:      b.IsDelayed,
		OccurredAt:     at,
	})
}

func (s *sessionService) GetSession(ctx context.Context, bookingID, callerID string) (*model.SessionBooking, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, bookingID)
		}
		s.logger.Error().Err(err).Str("booking_id", bookingID).Msg("Failed to fetch booking")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := s.authorize(ctx, b, callerID); err != nil {
		return nil, err
	}
	return b, nil
}

// authorize lets the booking's participants and admins act on it.
func (s *sessionService) authorize(ctx context.Context, b *model.SessionBooking, callerID string) error {
	if callerID != "" && (callerID == b.UserID || callerID == b.MentorID) {
		return nil
	}
	if callerID != "" {
		caller, err := s.users.GetUserByID(ctx, callerID)
		switch {
		case err == nil && caller.Role == model.RoleAdmin:
			return nil
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	s.logger.Warn().Str("booking_id", b.ID).Str("caller", callerID).Msg("Caller is not a participant of the session")
	return fmt.Errorf("%w: caller is not a participant of session %s", ErrForbidden, b.ID)
}

// StartSession marks a SCHEDULED booking ONGOING on a human's request. The
// delay flag is left false since someone was there to start it.
func (s *sessionService) StartSession(ctx context.Context, bookingID, callerID string) (*model.SessionBooking, error) {
	now := s.now().UTC()
	notDelayed := false
	return s.manualTransition(ctx, bookingID, callerID, []model.SessionStatus{model.SessionScheduled}, repository.Transition{
		To:              model.SessionOngoing,
		At:              now,
		IsDelayed:       &notDelayed,
		ManualStartTime: &now,
	})
}

func (s *sessionService) CompleteSession(ctx context.Context, bookingID, callerID string) (*model.SessionBooking, error) {
	now := s.now().UTC()
	return s.manualTransition(ctx, bookingID, callerID, []model.SessionStatus{model.SessionOngoing}, repository.Transition{
		To:            model.SessionCompleted,
		At:            now,
		ActualEndTime: &now,
	})
}

func (s *sessionService) CancelSession(ctx context.Context, bookingID, callerID string) (*model.SessionBooking, error) {
	now := s.now().UTC()
	return s.manualTransition(ctx, bookingID, callerID, []model.SessionStatus{model.SessionScheduled, model.SessionOngoing}, repository.Transition{
		To: model.SessionCancelled,
		At: now,
	})
}

func (s *sessionService) manualTransition(ctx context.Context, bookingID, callerID string, allowed []model.SessionStatus, t repository.Transition) (*model.SessionBooking, error) {
	b, err := s.GetSession(ctx, bookingID, callerID)
	if err != nil {
		return nil, err
	}
	if !statusIn(b.Status, allowed) {
		return nil, fmt.Errorf("%w: session %s is %s, cannot move to %s", ErrConflict, bookingID, b.Status, t.To)
	}
	updated, err := s.repo.Transition(ctx, bookingID, b.Status, t)
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, fmt.Errorf("%w: session %s changed concurrently", ErrConflict, bookingID)
		}
		s.logger.Error().Err(err).Str("booking_id", bookingID).Str("to", string(t.To)).Msg("Failed to apply manual transition")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.logger.Info().Str("booking_id", bookingID).Str("from", string(b.Status)).Str("to", string(updated.Status)).Msg("Session transitioned manually")
	s.emitTransition(ctx, updated, b.Status, t.At)
	return updated, nil
}

func statusIn(s model.SessionStatus, set []model.SessionStatus) bool {
	for _, c := range set {
		if s == c {
			return true
		}
	}
	return false
}

// BookSession creates a SCHEDULED booking after checking the mentor and the
// user's subscription.
func (s *sessionService) BookSession(ctx context.Context, b *model.SessionBooking) (*model.SessionBooking, error) {
	if !b.SessionType.Valid() {
		return nil, fmt.Errorf("%w: unknown session type %q", ErrValidation, b.SessionType)
	}
	if b.ScheduledEnd != nil && !b.ScheduledEnd.After(b.ScheduledStart) {
		return nil, fmt.Errorf("%w: scheduled end must be after scheduled start", ErrValidation)
	}
	if !b.ScheduledStart.After(s.now()) {
		return nil, fmt.Errorf("%w: scheduled start must be in the future", ErrValidation)
	}

	mentor, err := s.users.GetUserByID(ctx, b.MentorID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: mentor %s", ErrNotFound, b.MentorID)
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if mentor.Role != model.RoleMentor {
		return nil, fmt.Errorf("%w: user %s is not a mentor", ErrValidation, b.MentorID)
	}

	user, err := s.users.GetUserByID(ctx, b.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, b.UserID)
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if user.Subscription.Status != model.SubscriptionActive {
		return nil, fmt.Errorf("%w: user %s has no active subscription", ErrSubscriptionRequired, b.UserID)
	}

	if err := s.repo.Create(ctx, b); err != nil {
		s.logger.Error().Err(err).Str("user_id", b.UserID).Str("mentor_id", b.MentorID).Msg("Failed to create booking")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.logger.Info().Str("booking_id", b.ID).Str("user_id", b.UserID).Str("mentor_id", b.MentorID).Msg("Session booked")
	return b, nil
}
