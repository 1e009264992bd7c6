package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func TestStripeState(t *testing.T) {
	tests := []struct {
		status      stripe.SubscriptionStatus
		cancelAtEnd bool
		want        ProviderState
	}{
		{stripe.SubscriptionStatusActive, false, ProviderActive},
		{stripe.SubscriptionStatusTrialing, false, ProviderActive},
		{stripe.SubscriptionStatusActive, true, ProviderCancelled},
		{stripe.SubscriptionStatusCanceled, false, ProviderCancelled},
		{stripe.SubscriptionStatusUnpaid, false, ProviderPaymentFailed},
		{stripe.SubscriptionStatusPastDue, false, ProviderPaymentFailed},
		{stripe.SubscriptionStatusIncompleteExpired, false, ProviderPaymentFailed},
		{stripe.SubscriptionStatusIncomplete, false, ProviderPending},
		{stripe.SubscriptionStatusPaused, false, ProviderPending},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			sub := &stripe.Subscription{Status: tt.status, CancelAtPeriodEnd: tt.cancelAtEnd}
			assert.Equal(t, tt.want, stripeState(sub))
		})
	}
}

func TestStripeServiceFetchState(t *testing.T) {
	svc := NewStripeService("sk_test_dummy", zerolog.Nop())
	var gotID string
	svc.get = func(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
		gotID = id
		assert.NotNil(t, params.Context)
		return &stripe.Subscription{ID: id, Status: stripe.SubscriptionStatusPastDue}, nil
	}

	state, raw, err := svc.FetchState(context.Background(), "sub_123")
	require.NoError(t, err)
	assert.Equal(t, "sub_123", gotID)
	assert.Equal(t, ProviderPaymentFailed, state)
	assert.Equal(t, "past_due", raw)

	svc.get = func(string, *stripe.SubscriptionParams) (*stripe.Subscription, error) {
		return nil, errors.New("network")
	}
	_, _, err = svc.FetchState(context.Background(), "sub_123")
	assert.Error(t, err)
}

func TestStripeServiceCancelAtPeriodEnd(t *testing.T) {
	svc := NewStripeService("sk_test_dummy", zerolog.Nop())
	var params *stripe.SubscriptionParams
	svc.update = func(id string, p *stripe.SubscriptionParams) (*stripe.Subscription, error) {
		params = p
		return &stripe.Subscription{ID: id}, nil
	}

	require.NoError(t, svc.CancelAtPeriodEnd(context.Background(), "sub_123"))
	require.NotNil(t, params)
	require.NotNil(t, params.CancelAtPeriodEnd)
	assert.True(t, *params.CancelAtPeriodEnd)
}
