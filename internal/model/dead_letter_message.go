package model

import "time"

// DeadLetterMessage is a lifecycle event that could not be published,
// persisted so it can be replayed.
type DeadLetterMessage struct {
	ID        string    `db:"id"`
	Topic     string    `db:"topic"`
	EventType string    `db:"event_type"`
	Payload   string    `db:"payload"` // JSON
	LastError string    `db:"last_error"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

const DeadLetterUnprocessed = "unprocessed"
