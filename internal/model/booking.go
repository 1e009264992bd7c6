package model

import "time"

// SessionStatus is the lifecycle state of a booked session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "SCHEDULED"
	SessionOngoing   SessionStatus = "ONGOING"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionCancelled SessionStatus = "CANCELLED"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionScheduled, SessionOngoing, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// CanTransition reports whether moving from s to next respects the lifecycle
// SCHEDULED -> ONGOING -> COMPLETED, with CANCELLED reachable from the two
// non-terminal states.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch next {
	case SessionOngoing:
		return s == SessionScheduled
	case SessionCompleted:
		return s == SessionOngoing
	case SessionCancelled:
		return s == SessionScheduled || s == SessionOngoing
	}
	return false
}

type SessionType string

const (
	SessionYoga       SessionType = "YOGA"
	SessionMeditation SessionType = "MEDITATION"
	SessionDiet       SessionType = "DIET"
)

func (t SessionType) Valid() bool {
	switch t {
	case SessionYoga, SessionMeditation, SessionDiet:
		return true
	}
	return false
}

// DefaultDuration is used when a booking has no scheduled end.
func (t SessionType) DefaultDuration() time.Duration {
	switch t {
	case SessionMeditation:
		return 30 * time.Minute
	case SessionDiet:
		return 45 * time.Minute
	default:
		return 60 * time.Minute
	}
}

// SessionBooking is a scheduled mentoring session between a mentor and a user.
type SessionBooking struct {
	ID              string        `db:"id" json:"id"`
	MentorID        string        `db:"mentor_id" json:"mentor_id"`
	UserID          string        `db:"user_id" json:"user_id"`
	SessionType     SessionType   `db:"session_type" json:"session_type"`
	ScheduledStart  time.Time     `db:"scheduled_start" json:"scheduled_start"`
	ScheduledEnd    *time.Time    `db:"scheduled_end" json:"scheduled_end,omitempty"`
	Status          SessionStatus `db:"status" json:"status"`
	IsDelayed       bool          `db:"is_delayed" json:"is_delayed"`
	ManualStartTime *time.Time    `db:"manual_start_time" json:"manual_start_time,omitempty"`
	ActualEndTime   *time.Time    `db:"actual_end_time" json:"actual_end_time,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// Duration is the planned length of the session.
func (b *SessionBooking) Duration() time.Duration {
	if b.ScheduledEnd != nil && b.ScheduledEnd.After(b.ScheduledStart) {
		return b.ScheduledEnd.Sub(b.ScheduledStart)
	}
	return b.SessionType.DefaultDuration()
}

// EffectiveStart is the manual start time when a human intervened, the
// scheduled start otherwise.
func (b *SessionBooking) EffectiveStart() time.Time {
	if b.ManualStartTime != nil {
		return *b.ManualStartTime
	}
	return b.ScheduledStart
}

// EffectiveEnd is the recorded end time when present, the scheduled start
// plus duration otherwise.
func (b *SessionBooking) EffectiveEnd() time.Time {
	if b.ActualEndTime != nil {
		return *b.ActualEndTime
	}
	return b.ScheduledStart.Add(b.Duration())
}
