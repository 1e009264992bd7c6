package service

import (
	"context"
	"time"
)

// defaultProviderTimeout bounds a single billing provider call when the
// caller configures none.
const defaultProviderTimeout = 15 * time.Second

// ProviderState is the billing provider's view of an external subscription,
// reduced to what the renewal batch acts on.
type ProviderState string

const (
	// ProviderActive means the subscription is paid up for the next period.
	ProviderActive ProviderState = "active"
	// ProviderCancelled means the customer or an operator cancelled it.
	ProviderCancelled ProviderState = "cancelled"
	// ProviderPaymentFailed means collection failed and will not recover.
	ProviderPaymentFailed ProviderState = "payment_failed"
	// ProviderPending covers every other state (incomplete, paused, ...).
	ProviderPending ProviderState = "pending"
)

// BillingProvider is the external billing system holding the subscriptions.
type BillingProvider interface {
	// FetchState returns the current state of the referenced subscription.
	// The raw provider status is returned alongside for reporting.
	FetchState(ctx context.Context, subscriptionRef string) (ProviderState, string, error)
	// CancelAtPeriodEnd stops renewal at the end of the current period.
	CancelAtPeriodEnd(ctx context.Context, subscriptionRef string) error
}
