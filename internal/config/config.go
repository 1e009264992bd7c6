package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"debug"`

	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	DBMaxConns         int32  `envconfig:"DB_MAX_CONNS" default:"25"`

	// Secrets. When SecretsFromGCP is set, empty values are resolved from
	// Secret Manager using the *_SECRET_NAME fields below.
	JWTSecret       string `envconfig:"JWT_SECRET"`
	CronSecret      string `envconfig:"CRON_SECRET"`
	StripeSecretKey string `envconfig:"STRIPE_SECRET_KEY"`

	SecretsFromGCP          bool   `envconfig:"SECRETS_FROM_GCP" default:"false"`
	JWTSecretName           string `envconfig:"JWT_SECRET_NAME" default:"jwt-secret"`
	CronSecretName          string `envconfig:"CRON_SECRET_NAME" default:"cron-secret"`
	StripeSecretKeyName     string `envconfig:"STRIPE_SECRET_KEY_NAME" default:"stripe-secret-key"`
	GCPProjectID            string `envconfig:"GCP_PROJECT_ID"`
	SchedulerAudience       string `envconfig:"SCHEDULER_AUDIENCE"`
	SchedulerServiceAccount string `envconfig:"SCHEDULER_SERVICE_ACCOUNT"`

	// Session lifecycle settings
	SessionDelayGrace      time.Duration `envconfig:"SESSION_DELAY_GRACE" default:"5m"`
	SessionPassConcurrency int           `envconfig:"SESSION_PASS_CONCURRENCY" default:"8"`

	// Renewal settings
	RenewalPassConcurrency int           `envconfig:"RENEWAL_PASS_CONCURRENCY" default:"4"`
	RenewalLeaseTTL        time.Duration `envconfig:"RENEWAL_LEASE_TTL" default:"10m"`
	ProviderTimeout        time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"15s"`
	PassLockTTL            time.Duration `envconfig:"PASS_LOCK_TTL" default:"15m"`

	// Shared state. Without RedisURL the pass lock and cron rate limiter
	// live in process memory and only hold for a single instance.
	RedisURL string `envconfig:"REDIS_URL"`

	// Lifecycle events go to Pub/Sub when GCPProjectID is set, otherwise to pgmq.
	EventsTopic string `envconfig:"EVENTS_TOPIC" default:"session-lifecycle"`
	EventsQueue string `envconfig:"EVENTS_QUEUE" default:"lifecycle_events"`

	// Local Pub/Sub emulator, read by cmd/setup-pubsub-local. The client
	// library also picks PUBSUB_EMULATOR_HOST up on its own.
	PubSubEmulatorHost string `envconfig:"PUBSUB_EMULATOR_HOST"`

	CronRateLimit float64 `envconfig:"CRON_RATE_LIMIT" default:"1"`
	CronRateBurst int     `envconfig:"CRON_RATE_BURST" default:"5"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	// In-process scheduler (cmd/scheduler), six-field cron specs with seconds.
	SessionStatusSchedule string        `envconfig:"SESSION_STATUS_SCHEDULE" default:"0 * * * * *"`
	RenewalSchedule       string        `envconfig:"RENEWAL_SCHEDULE" default:"0 0 3 * * *"`
	TrialExpirySchedule   string        `envconfig:"TRIAL_EXPIRY_SCHEDULE" default:"0 0 2 * * *"`
	JobTimeout            time.Duration `envconfig:"JOB_TIMEOUT" default:"10m"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsDevelopment reports whether the app runs with local development settings.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
