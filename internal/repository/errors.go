package repository

import "errors"

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStaleState is returned when a conditional update matched no row
	// because the record is no longer in the expected state.
	ErrStaleState = errors.New("record is not in the expected state")
	// ErrLeaseHeld is returned when another worker holds the renewal lease.
	ErrLeaseHeld = errors.New("renewal lease held by another worker")
)
