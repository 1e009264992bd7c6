package service

import (
	"context"
	"fmt"

	"mentorship/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
)

type SecretManagerService interface {
	GetSecret(ctx context.Context, name string) (string, error)
	Close() error
}

// secretAccessor is the part of the Secret Manager client used here.
type secretAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

type secretManagerService struct {
	client    secretAccessor
	closer    func() error
	projectID string
}

func NewSecretManagerService(ctx context.Context, cfg *config.Config) (SecretManagerService, error) {
	if cfg.GCPProjectID == "" {
		return nil, fmt.Errorf("GCP Project ID is not set for the current environment")
	}

	// Note: Secret Manager requires a real GCP project even for local development.
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}

	return &secretManagerService{
		client:    client,
		closer:    client.Close,
		projectID: cfg.GCPProjectID,
	}, nil
}

// GetSecret returns the latest version of the named secret.
func (s *secretManagerService) GetSecret(ctx context.Context, name string) (string, error) {
	resourceName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, name)

	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: resourceName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", name, err)
	}

	return string(result.Payload.Data), nil
}

func (s *secretManagerService) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// ResolveSecrets fills every secret left empty in cfg from Secret Manager.
// Values already present in the environment win.
func ResolveSecrets(ctx context.Context, sm SecretManagerService, cfg *config.Config) error {
	targets := []struct {
		value *string
		name  string
	}{
		{&cfg.JWTSecret, cfg.JWTSecretName},
		{&cfg.CronSecret, cfg.CronSecretName},
		{&cfg.StripeSecretKey, cfg.StripeSecretKeyName},
	}
	for _, t := range targets {
		if *t.value != "" || t.name == "" {
			continue
		}
		v, err := sm.GetSecret(ctx, t.name)
		if err != nil {
			return err
		}
		*t.value = v
	}
	return nil
}
