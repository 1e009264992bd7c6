package model

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleMentor    Role = "mentor"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleMentor, RoleModerator, RoleUser:
		return true
	}
	return false
}

// User represents a user in the system together with the subscription
// attached to it.
type User struct {
	UserID    string    `db:"id" json:"user_id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Role      Role      `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Subscription Subscription `json:"subscription"`

	// Renewal lease; set while a renewal attempt for this user is in flight.
	RenewalLeaseOwner *uuid.UUID `db:"renewal_lease_owner" json:"-"`
	RenewalLeaseUntil *time.Time `db:"renewal_lease_until" json:"-"`
}
