package dto

import "mentorship/internal/service"

// SessionStatusPassResponseDTO summarises one session status pass.
type SessionStatusPassResponseDTO struct {
	Updates  []service.StatusUpdate `json:"updates"`
	Failures []service.PassFailure  `json:"failures"`
}

// RenewalPassResponseDTO summarises one renewal pass. Errors holds one entry
// per user that could not be settled.
type RenewalPassResponseDTO struct {
	Processed int                    `json:"processed"`
	Renewed   int                    `json:"renewed"`
	Expired   int                    `json:"expired"`
	Errored   int                    `json:"errored"`
	Skipped   int                    `json:"skipped"`
	Errors    []service.RenewalError `json:"errors"`
}

type TrialExpiryResponseDTO struct {
	Processed int                    `json:"processed"`
	Expired   int                    `json:"expired"`
	Errors    []service.RenewalError `json:"errors"`
}
