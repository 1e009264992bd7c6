package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/rs/zerolog"
	"google.golang.org/api/idtoken"
)

// IDTokenValidator checks a Google-signed OIDC token for audience.
type IDTokenValidator func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// CronAuthConfig configures CronAuthMiddleware. A request passes when its
// bearer token equals Secret, or when Audience is set and the token is an
// OIDC token for Audience issued to ServiceAccount.
type CronAuthConfig struct {
	Secret         string
	Audience       string
	ServiceAccount string
	Validate       IDTokenValidator
}

// CronAuthMiddleware guards the batch trigger endpoints. A missing header
// yields 401, a token that matches nothing 403.
func CronAuthMiddleware(cfg CronAuthConfig, logger zerolog.Logger) func(http.Handler) http.Handler {
	if cfg.Validate == nil {
		cfg.Validate = idtoken.Validate
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Secret == "" && cfg.Audience == "" {
				logger.Error().Msg("Cron auth configured without a secret or an OIDC audience; requests will be denied")
				http.Error(w, "Configuration error: cron auth not set", http.StatusInternalServerError)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				logger.Warn().Str("path", r.URL.Path).Msg("Missing authorization header on cron request")
				http.Error(w, "Unauthorized: missing authorization header", http.StatusUnauthorized)
				return
			}

			if cfg.Secret != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Secret)) == 1 {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.Audience != "" {
				payload, err := cfg.Validate(r.Context(), token, cfg.Audience)
				if err == nil {
					email, _ := payload.Claims["email"].(string)
					if cfg.ServiceAccount == "" || email == cfg.ServiceAccount {
						logger.Debug().Str("email", email).Msg("Cron request authenticated with OIDC token")
						next.ServeHTTP(w, r)
						return
					}
					logger.Warn().
						Str("token_email", email).
						Str("expected_email", cfg.ServiceAccount).
						Msg("Cron OIDC token email does not match expected service account")
				}
			}

			logger.Warn().Str("path", r.URL.Path).Msg("Rejected cron request with invalid token")
			http.Error(w, "Forbidden: invalid token", http.StatusForbidden)
		})
	}
}
