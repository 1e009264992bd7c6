package dto

import (
	"time"

	"mentorship/internal/model"
)

// SessionBookDTO is used for incoming booking requests
type SessionBookDTO struct {
	MentorID       string     `json:"mentor_id" validate:"required"`
	SessionType    string     `json:"session_type" validate:"required,oneof=YOGA MEDITATION DIET"`
	ScheduledStart time.Time  `json:"scheduled_start" validate:"required"`
	ScheduledEnd   *time.Time `json:"scheduled_end,omitempty"`
}

// SessionResponseDTO is returned in API responses for bookings
type SessionResponseDTO struct {
	SessionID       string     `json:"session_id"`
	MentorID        string     `json:"mentor_id"`
	UserID          string     `json:"user_id"`
	SessionType     string     `json:"session_type"`
	ScheduledStart  time.Time  `json:"scheduled_start"`
	ScheduledEnd    *time.Time `json:"scheduled_end,omitempty"`
	Status          string     `json:"status"`
	IsDelayed       bool       `json:"is_delayed"`
	ManualStartTime *time.Time `json:"manual_start_time,omitempty"`
	ActualEndTime   *time.Time `json:"actual_end_time,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func NewSessionResponse(b *model.SessionBooking) SessionResponseDTO {
	return SessionResponseDTO{
		SessionID:       b.ID,
		MentorID:        b.MentorID,
		UserID:          b.UserID,
		SessionType:     string(b.SessionType),
		ScheduledStart:  b.ScheduledStart,
		ScheduledEnd:    b.ScheduledEnd,
		Status:          string(b.Status),
		IsDelayed:       b.IsDelayed,
		ManualStartTime: b.ManualStartTime,
		ActualEndTime:   b.ActualEndTime,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}
