package dto

import (
	"time"

	"mentorship/internal/model"
)

// TrialStartDTO is used for incoming trial requests
type TrialStartDTO struct {
	Plan string `json:"plan" validate:"required,oneof=SEED BLOOM FLOURISH"`
}

// SubscriptionResponseDTO is returned in API responses for subscriptions.
// The external provider reference is never exposed.
type SubscriptionResponseDTO struct {
	Plan            *string    `json:"plan,omitempty"`
	Status          string     `json:"status"`
	BillingPeriod   *string    `json:"billing_period,omitempty"`
	NextBillingDate *time.Time `json:"next_billing_date,omitempty"`
	LastPaymentDate *time.Time `json:"last_payment_date,omitempty"`
	AutoRenewal     bool       `json:"auto_renewal"`
	IsTrialActive   bool       `json:"is_trial_active"`
	TrialEndDate    *time.Time `json:"trial_end_date,omitempty"`
	TrialUsed       bool       `json:"trial_used"`
}

func NewSubscriptionResponse(s *model.Subscription) SubscriptionResponseDTO {
	resp := SubscriptionResponseDTO{
		Status:          string(s.Status),
		NextBillingDate: s.NextBillingDate,
		LastPaymentDate: s.LastPaymentDate,
		AutoRenewal:     s.AutoRenewal,
		IsTrialActive:   s.IsTrialActive,
		TrialEndDate:    s.TrialEndDate,
		TrialUsed:       s.TrialUsed,
	}
	if s.Plan != nil {
		p := string(*s.Plan)
		resp.Plan = &p
	}
	if s.BillingPeriod != nil {
		bp := string(*s.BillingPeriod)
		resp.BillingPeriod = &bp
	}
	return resp
}
