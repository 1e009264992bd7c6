package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mentorship/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const bookingColumns = `id, mentor_id, user_id, session_type, scheduled_start, scheduled_end, status,
       is_delayed, manual_start_time, actual_end_time, created_at, updated_at`

// BookingFilter narrows ListActive to bookings whose scheduled start falls in
// [From, To). Zero values leave that side open.
type BookingFilter struct {
	From time.Time
	To   time.Time
}

// Transition describes a status change applied by a conditional update.
type Transition struct {
	To              model.SessionStatus
	At              time.Time
	IsDelayed       *bool
	ManualStartTime *time.Time
	// ActualEndTime is written only when the column is still NULL.
	ActualEndTime *time.Time
}

// BookingRepository defines methods for accessing session bookings.
type BookingRepository interface {
	Create(ctx context.Context, b *model.SessionBooking) error
	GetByID(ctx context.Context, id string) (*model.SessionBooking, error)
	// ListActive returns SCHEDULED and ONGOING bookings.
	ListActive(ctx context.Context, filter BookingFilter) ([]model.SessionBooking, error)
	// Transition applies t only if the booking is still in status from.
	Transition(ctx context.Context, id string, from model.SessionStatus, t Transition) (*model.SessionBooking, error)
	ListByMentor(ctx context.Context, mentorID string, statuses []model.SessionStatus) ([]model.SessionBooking, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]model.SessionBooking, error)
	CountByStatus(ctx context.Context) (map[model.SessionStatus]int, error)
}

type bookingRepo struct {
	pool *pgxpool.Pool
}

// NewBookingRepo creates a new BookingRepository.
func NewBookingRepo(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepo{pool: pool}
}

func scanBooking(row pgx.Row) (*model.SessionBooking, error) {
	var b model.SessionBooking
	err := row.Scan(
		&b.ID,
		&b.MentorID,
		&b.UserID,
		&b.SessionType,
		&b.ScheduledStart,
		&b.ScheduledEnd,
		&b.Status,
		&b.IsDelayed,
		&b.ManualStartTime,
		&b.ActualEndTime,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]model.SessionBooking, error) {
	defer rows.Close()
	var out []model.SessionBooking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return out, nil
}

// Create inserts a new booking. Typed fields are checked here so malformed
// rows never reach the table.
func (r *bookingRepo) Create(ctx context.Context, b *model.SessionBooking) error {
	if !b.SessionType.Valid() {
		return fmt.Errorf("create booking: invalid session type %q", b.SessionType)
	}
	if b.ScheduledStart.IsZero() {
		return errors.New("create booking: scheduled start is required")
	}
	if b.ScheduledEnd != nil && !b.ScheduledEnd.After(b.ScheduledStart) {
		return errors.New("create booking: scheduled end must be after scheduled start")
	}
	const q = `
        INSERT INTO session_bookings (mentor_id, user_id, session_type, scheduled_start, scheduled_end, status)
        VALUES ($1, $2, $3, $4, $5, 'SCHEDULED')
        RETURNING ` + bookingColumns
	created, err := scanBooking(r.pool.QueryRow(ctx, q, b.MentorID, b.UserID, b.SessionType, b.ScheduledStart.UTC(), b.ScheduledEnd))
	if err != nil {
		return fmt.Errorf("create booking for user %s: %w", b.UserID, err)
	}
	*b = *created
	return nil
}

// GetByID returns the booking with the given id. An id that is not a UUID
// cannot name a row and reports ErrNotFound.
func (r *bookingRepo) GetByID(ctx context.Context, id string) (*model.SessionBooking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	q := `SELECT ` + bookingColumns + ` FROM session_bookings WHERE id = $1`
	b, err := scanBooking(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch booking %s: %w", id, err)
	}
	return b, nil
}

func (r *bookingRepo) ListActive(ctx context.Context, filter BookingFilter) ([]model.SessionBooking, error) {
	q := `
        SELECT ` + bookingColumns + `
        FROM session_bookings
        WHERE status IN ('SCHEDULED', 'ONGOING')
          AND ($1::timestamptz IS NULL OR scheduled_start >= $1)
          AND ($2::timestamptz IS NULL OR scheduled_start < $2)
        ORDER BY scheduled_start
    `
	var from, to *time.Time
	if !filter.From.IsZero() {
		from = &filter.From
	}
	if !filter.To.IsZero() {
		to = &filter.To
	}
	rows, err := r.pool.Query(ctx, q, from, to)
	if err != nil {
		return nil, fmt.Errorf("list active bookings: %w", err)
	}
	return collectBookings(rows)
}

func (r *bookingRepo) Transition(ctx context.Context, id string, from model.SessionStatus, t Transition) (*model.SessionBooking, error) {
	if !from.CanTransition(t.To) {
		return nil, fmt.Errorf("transition booking %s: %s -> %s is not allowed", id, from, t.To)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	q := `
        UPDATE session_bookings
        SET status = $3,
            is_delayed = COALESCE($4, is_delayed),
            manual_start_time = COALESCE($5, manual_start_time),
            actual_end_time = COALESCE(actual_end_time, $6),
            updated_at = $7
        WHERE id = $1 AND status = $2
        RETURNING ` + bookingColumns
	b, err := scanBooking(r.pool.QueryRow(ctx, q, id, from, t.To, t.IsDelayed, t.ManualStartTime, t.ActualEndTime, t.At))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaleState
		}
		return nil, fmt.Errorf("transition booking %s to %s: %w", id, t.To, err)
	}
	return b, nil
}

func (r *bookingRepo) ListByMentor(ctx context.Context, mentorID string, statuses []model.SessionStatus) ([]model.SessionBooking, error) {
	q := `
        SELECT ` + bookingColumns + `
        FROM session_bookings
        WHERE mentor_id = $1 AND status = ANY($2)
        ORDER BY scheduled_start
    `
	st := make([]string, len(statuses))
	for i, s := range statuses {
		st[i] = string(s)
	}
	rows, err := r.pool.Query(ctx, q, mentorID, st)
	if err != nil {
		return nil, fmt.Errorf("list bookings for mentor %s: %w", mentorID, err)
	}
	return collectBookings(rows)
}

func (r *bookingRepo) ListByUser(ctx context.Context, userID string, limit int) ([]model.SessionBooking, error) {
	q := `
        SELECT ` + bookingColumns + `
        FROM session_bookings
        WHERE user_id = $1
        ORDER BY scheduled_start DESC
        LIMIT $2
    `
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list bookings for user %s: %w", userID, err)
	}
	return collectBookings(rows)
}

func (r *bookingRepo) CountByStatus(ctx context.Context) (map[model.SessionStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM session_bookings GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count bookings by status: %w", err)
	}
	defer rows.Close()
	counts := make(map[model.SessionStatus]int)
	for rows.Next() {
		var status model.SessionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan booking count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
