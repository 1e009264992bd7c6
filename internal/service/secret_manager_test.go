package service

import (
	"context"
	"errors"
	"testing"

	"mentorship/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccessor struct {
	values    map[string]string
	requested []string
}

func (f *fakeAccessor) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.requested = append(f.requested, req.GetName())
	v, ok := f.values[req.GetName()]
	if !ok {
		return nil, errors.New("not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(v)}}, nil
}

var _ secretAccessor = (*secretmanager.Client)(nil)

func TestResolveSecretsFillsOnlyMissing(t *testing.T) {
	acc := &fakeAccessor{values: map[string]string{
		"projects/p1/secrets/cron-secret/versions/latest":       "from-gcp-cron",
		"projects/p1/secrets/stripe-secret-key/versions/latest": "sk_from_gcp",
	}}
	sm := &secretManagerService{client: acc, projectID: "p1"}
	cfg := &config.Config{
		JWTSecret:           "from-env",
		JWTSecretName:       "jwt-secret",
		CronSecretName:      "cron-secret",
		StripeSecretKeyName: "stripe-secret-key",
	}

	require.NoError(t, ResolveSecrets(context.Background(), sm, cfg))
	assert.Equal(t, "from-env", cfg.JWTSecret)
	assert.Equal(t, "from-gcp-cron", cfg.CronSecret)
	assert.Equal(t, "sk_from_gcp", cfg.StripeSecretKey)
	assert.Len(t, acc.requested, 2)
	assert.NoError(t, sm.Close())
}

func TestResolveSecretsPropagatesErrors(t *testing.T) {
	sm := &secretManagerService{client: &fakeAccessor{}, projectID: "p1"}
	cfg := &config.Config{CronSecretName: "cron-secret"}

	err := ResolveSecrets(context.Background(), sm, cfg)
	assert.ErrorContains(t, err, "cron-secret")
}

func TestNewSecretManagerServiceRequiresProject(t *testing.T) {
	_, err := NewSecretManagerService(context.Background(), &config.Config{})
	assert.Error(t, err)
}
