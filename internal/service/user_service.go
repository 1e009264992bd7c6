package service

import (
	"context"
	"errors"
	"fmt"

	"mentorship/internal/model"
	"mentorship/internal/repository"
)

type UserService interface {
	Get(ctx context.Context, id string) (*model.User, error)
	Dashboard(ctx context.Context, id string) (*Dashboard, error)
}

// Dashboard is the role-specific overview returned to the caller. Only the
// fields relevant to Role are populated.
type Dashboard struct {
	Role               model.Role                       `json:"role"`
	BookingCounts      map[model.SessionStatus]int      `json:"booking_counts,omitempty"`
	SubscriptionCounts map[model.SubscriptionStatus]int `json:"subscription_counts,omitempty"`
	Sessions           []model.SessionBooking           `json:"sessions,omitempty"`
	Subscription       *model.Subscription              `json:"subscription,omitempty"`
}

const recentSessionsLimit = 20

type userService struct {
	userRepo    repository.UserRepository
	bookingRepo repository.BookingRepository
}

func NewUserService(userRepo repository.UserRepository, bookingRepo repository.BookingRepository) UserService {
	return &userService{userRepo: userRepo, bookingRepo: bookingRepo}
}

func (s *userService) Get(ctx context.Context, id string) (*model.User, error) {
	u, err := s.userRepo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return u, nil
}

func (s *userService) Dashboard(ctx context.Context, id string) (*Dashboard, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{Role: u.Role}
	switch u.Role {
	case model.RoleAdmin:
		if d.BookingCounts, err = s.bookingRepo.CountByStatus(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if d.SubscriptionCounts, err = s.userRepo.CountBySubscriptionStatus(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	case model.RoleModerator:
		if d.SubscriptionCounts, err = s.userRepo.CountBySubscriptionStatus(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	case model.RoleMentor:
		active := []model.SessionStatus{model.SessionScheduled, model.SessionOngoing}
		if d.Sessions, err = s.bookingRepo.ListByMentor(ctx, u.UserID, active); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	default:
		if d.Sessions, err = s.bookingRepo.ListByUser(ctx, u.UserID, recentSessionsLimit); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		d.Subscription = &u.Subscription
	}
	return d, nil
}
