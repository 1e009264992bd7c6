package model

import "time"

// Plan is the subscription tier.
type Plan string

const (
	PlanSeed     Plan = "SEED"
	PlanBloom    Plan = "BLOOM"
	PlanFlourish Plan = "FLOURISH"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanSeed, PlanBloom, PlanFlourish:
		return true
	}
	return false
}

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "ACTIVE"
	SubscriptionInactive SubscriptionStatus = "INACTIVE"
	SubscriptionExpired  SubscriptionStatus = "EXPIRED"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionInactive, SubscriptionExpired:
		return true
	}
	return false
}

type BillingPeriod string

const (
	BillingMonthly BillingPeriod = "monthly"
	BillingAnnual  BillingPeriod = "annual"
)

func (p BillingPeriod) Valid() bool {
	return p == BillingMonthly || p == BillingAnnual
}

// Next returns the billing boundary one period after t. Month arithmetic is
// clamped to the last day of the target month, so Jan 31 advances to Feb 28
// (or 29) rather than overflowing into March.
func (p BillingPeriod) Next(t time.Time) time.Time {
	months := 1
	if p == BillingAnnual {
		months = 12
	}
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// TrialPeriod is the length of the free trial.
const TrialPeriod = 7 * 24 * time.Hour

// Subscription holds the billing state of a user.
type Subscription struct {
	Plan                   *Plan              `db:"subscription_plan" json:"plan,omitempty"`
	Status                 SubscriptionStatus `db:"subscription_status" json:"status"`
	BillingPeriod          *BillingPeriod     `db:"billing_period" json:"billing_period,omitempty"`
	NextBillingDate        *time.Time         `db:"next_billing_date" json:"next_billing_date,omitempty"`
	LastPaymentDate        *time.Time         `db:"last_payment_date" json:"last_payment_date,omitempty"`
	ExternalSubscriptionID *string            `db:"external_subscription_id" json:"external_subscription_id,omitempty"`
	AutoRenewal            bool               `db:"auto_renewal" json:"auto_renewal"`
	IsTrialActive          bool               `db:"is_trial_active" json:"is_trial_active"`
	TrialEndDate           *time.Time         `db:"trial_end_date" json:"trial_end_date,omitempty"`
	TrialUsed              bool               `db:"trial_used" json:"trial_used"`
}

// HasPaidPlan reports whether an active, non-trial plan is in place.
func (s *Subscription) HasPaidPlan() bool {
	return s.Status == SubscriptionActive && !s.IsTrialActive && s.Plan != nil
}
