package repository

import (
	"context"
	"fmt"

	"mentorship/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DLQRepository interface {
	Create(ctx context.Context, message *model.DeadLetterMessage) error
}

type dlqRepository struct {
	pool *pgxpool.Pool
}

func NewDLQRepository(pool *pgxpool.Pool) DLQRepository {
	return &dlqRepository{pool: pool}
}

func (r *dlqRepository) Create(ctx context.Context, message *model.DeadLetterMessage) error {
	query := `
        INSERT INTO dead_letter_messages (topic, event_type, payload, last_error, status)
        VALUES ($1, $2, $3::jsonb, $4, $5)
        RETURNING id, created_at, updated_at
    `
	status := message.Status
	if status == "" {
		status = model.DeadLetterUnprocessed
	}
	err := r.pool.QueryRow(ctx, query,
		message.Topic,
		message.EventType,
		message.Payload,
		message.LastError,
		status,
	).Scan(&message.ID, &message.CreatedAt, &message.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store dead letter for %s: %w", message.EventType, err)
	}
	message.Status = status
	return nil
}
