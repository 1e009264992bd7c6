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

const userColumns = `id, name, email, role, created_at, updated_at,
       subscription_plan, subscription_status, billing_period, next_billing_date, last_payment_date,
       external_subscription_id, auto_renewal, is_trial_active, trial_end_date, trial_used,
       renewal_lease_owner, renewal_lease_until`

// a user is due for renewal when its paid plan is active, set to renew and
// the billing date has arrived
const dueForRenewal = `subscription_status = 'ACTIVE'
          AND auto_renewal
          AND NOT is_trial_active
          AND next_billing_date <= $1`

type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	CountBySubscriptionStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error)

	// ListDueForRenewal returns users whose next billing date is at or before now.
	ListDueForRenewal(ctx context.Context, now time.Time) ([]model.User, error)
	// ClaimRenewal takes the renewal lease for a still-due user. It returns
	// ErrLeaseHeld when another owner holds an unexpired lease or the user is
	// no longer due.
	ClaimRenewal(ctx context.Context, userID string, owner uuid.UUID, now time.Time, ttl time.Duration) (*model.User, error)
	// CompleteRenewal advances the billing date and releases the lease.
	CompleteRenewal(ctx context.Context, userID string, owner uuid.UUID, nextBilling, paidAt time.Time) error
	// EndSubscription moves the user to status, clears auto renewal and
	// releases the lease.
	EndSubscription(ctx context.Context, userID string, owner uuid.UUID, status model.SubscriptionStatus, at time.Time) error
	// ReleaseRenewal drops the lease without touching the subscription.
	ReleaseRenewal(ctx context.Context, userID string, owner uuid.UUID) error

	ListExpiredTrials(ctx context.Context, now time.Time) ([]model.User, error)
	ExpireTrial(ctx context.Context, userID string, now time.Time) error
	StartTrial(ctx context.Context, userID string, plan model.Plan, start, end time.Time) error
	DisableAutoRenewal(ctx context.Context, userID string, at time.Time) error
}

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	s := &u.Subscription
	err := row.Scan(
		&u.UserID,
		&u.Name,
		&u.Email,
		&u.Role,
		&u.CreatedAt,
		&u.UpdatedAt,
		&s.Plan,
		&s.Status,
		&s.BillingPeriod,
		&s.NextBillingDate,
		&s.LastPaymentDate,
		&s.ExternalSubscriptionID,
		&s.AutoRenewal,
		&s.IsTrialActive,
		&s.TrialEndDate,
		&s.TrialUsed,
		&u.RenewalLeaseOwner,
		&u.RenewalLeaseUntil,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func collectUsers(rows pgx.Rows) ([]model.User, error) {
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

// expectOne maps a zero-row conditional update to sentinel.
func expectOne(tag interface{ RowsAffected() int64 }, sentinel error) error {
	if tag.RowsAffected() == 0 {
		return sentinel
	}
	return nil
}

func (r *userRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch user %s: %w", id, err)
	}
	return u, nil
}

func (r *userRepo) CountBySubscriptionStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT subscription_status, COUNT(*) FROM users GROUP BY subscription_status`)
	if err != nil {
		return nil, fmt.Errorf("count users by subscription status: %w", err)
	}
	defer rows.Close()
	counts := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status model.SubscriptionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan subscription count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *userRepo) ListDueForRenewal(ctx context.Context, now time.Time) ([]model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE ` + dueForRenewal + ` ORDER BY next_billing_date`
	rows, err := r.pool.Query(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("list users due for renewal: %w", err)
	}
	return collectUsers(rows)
}

func (r *userRepo) ClaimRenewal(ctx context.Context, userID string, owner uuid.UUID, now time.Time, ttl time.Duration) (*model.User, error) {
	q := `
        UPDATE users
        SET renewal_lease_owner = $3, renewal_lease_until = $4
        WHERE id = $2
          AND ` + dueForRenewal + `
          AND (renewal_lease_until IS NULL OR renewal_lease_until < $1)
        RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, q, now, userID, owner, now.Add(ttl)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeaseHeld
		}
		return nil, fmt.Errorf("claim renewal lease for user %s: %w", userID, err)
	}
	return u, nil
}

func (r *userRepo) CompleteRenewal(ctx context.Context, userID string, owner uuid.UUID, nextBilling, paidAt time.Time) error {
	const q = `
        UPDATE users
        SET next_billing_date = $3,
            last_payment_date = $4,
            subscription_status = 'ACTIVE',
            renewal_lease_owner = NULL,
            renewal_lease_until = NULL,
            updated_at = $4
        WHERE id = $1 AND renewal_lease_owner = $2
    `
	tag, err := r.pool.Exec(ctx, q, userID, owner, nextBilling, paidAt)
	if err != nil {
		return fmt.Errorf("complete renewal for user %s: %w", userID, err)
	}
	return expectOne(tag, ErrLeaseHeld)
}

func (r *userRepo) EndSubscription(ctx context.Context, userID string, owner uuid.UUID, status model.SubscriptionStatus, at time.Time) error {
	if !status.Valid() || status == model.SubscriptionActive {
		return fmt.Errorf("end subscription for user %s: invalid target status %q", userID, status)
	}
	const q = `
        UPDATE users
        SET subscription_status = $3,
            auto_renewal = FALSE,
            renewal_lease_owner = NULL,
            renewal_lease_until = NULL,
            updated_at = $4
        WHERE id = $1 AND renewal_lease_owner = $2
    `
	tag, err := r.pool.Exec(ctx, q, userID, owner, status, at)
	if err != nil {
		return fmt.Errorf("end subscription for user %s: %w", userID, err)
	}
	return expectOne(tag, ErrLeaseHeld)
}

func (r *userRepo) ReleaseRenewal(ctx context.Context, userID string, owner uuid.UUID) error {
	const q = `
        UPDATE users
        SET renewal_lease_owner = NULL, renewal_lease_until = NULL
        WHERE id = $1 AND renewal_lease_owner = $2
    `
	if _, err := r.pool.Exec(ctx, q, userID, owner); err != nil {
		return fmt.Errorf("release renewal lease for user %s: %w", userID, err)
	}
	return nil
}

func (r *userRepo) ListExpiredTrials(ctx context.Context, now time.Time) ([]model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE is_trial_active AND trial_end_date <= $1`
	rows, err := r.pool.Query(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("list expired trials: %w", err)
	}
	return collectUsers(rows)
}

func (r *userRepo) ExpireTrial(ctx context.Context, userID string, now time.Time) error {
	const q = `
        UPDATE users
        SET is_trial_active = FALSE,
            trial_used = TRUE,
            subscription_status = 'INACTIVE',
            subscription_plan = NULL,
            billing_period = NULL,
            next_billing_date = NULL,
            auto_renewal = FALSE,
            updated_at = $2
        WHERE id = $1 AND is_trial_active AND trial_end_date <= $2
    `
	tag, err := r.pool.Exec(ctx, q, userID, now)
	if err != nil {
		return fmt.Errorf("expire trial for user %s: %w", userID, err)
	}
	return expectOne(tag, ErrStaleState)
}

func (r *userRepo) StartTrial(ctx context.Context, userID string, plan model.Plan, start, end time.Time) error {
	if !plan.Valid() {
		return fmt.Errorf("start trial for user %s: invalid plan %q", userID, plan)
	}
	const q = `
        UPDATE users
        SET subscription_plan = $2,
            subscription_status = 'ACTIVE',
            billing_period = 'monthly',
            next_billing_date = $4,
            last_payment_date = NULL,
            auto_renewal = TRUE,
            is_trial_active = TRUE,
            trial_end_date = $4,
            trial_used = TRUE,
            updated_at = $3
        WHERE id = $1 AND NOT trial_used AND subscription_status <> 'ACTIVE'
    `
	tag, err := r.pool.Exec(ctx, q, userID, plan, start, end)
	if err != nil {
		return fmt.Errorf("start trial for user %s: %w", userID, err)
	}
	return expectOne(tag, ErrStaleState)
}

func (r *userRepo) DisableAutoRenewal(ctx context.Context, userID string, at time.Time) error {
	const q = `
        UPDATE users
        SET auto_renewal = FALSE, updated_at = $2
        WHERE id = $1 AND subscription_status = 'ACTIVE'
    `
	tag, err := r.pool.Exec(ctx, q, userID, at)
	if err != nil {
		return fmt.Errorf("disable auto renewal for user %s: %w", userID, err)
	}
	return expectOne(tag, ErrStaleState)
}
