package service

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrForbidden        = errors.New("forbidden")
	ErrValidation       = errors.New("validation failed")
	ErrExternalProvider = errors.New("billing provider error")
	ErrPersistence      = errors.New("persistence error")
	ErrPassInProgress   = errors.New("pass already in progress")

	ErrSubscriptionRequired = errors.New("active subscription required")
)
