// Package bootstrap builds the dependency graph shared by the API server and
// the in-process scheduler.
package bootstrap

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"mentorship/internal/config"
	"mentorship/internal/lock"
	"mentorship/internal/middleware"
	"mentorship/internal/pgmq"
	"mentorship/internal/pubsub"
	"mentorship/internal/repository"
	"mentorship/internal/service"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds the wired services and the resources they own.
type App struct {
	Pool          *pgxpool.Pool
	Sessions      service.SessionService
	Renewals      service.RenewalService
	Subscriptions service.SubscriptionService
	Users         service.UserService
	CronLimiter   middleware.Limiter

	closers []func()
}

// New connects to every backing service named in cfg. Secrets missing from
// the environment are fetched from Secret Manager first when enabled.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	app := &App{}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	if cfg.SecretsFromGCP {
		sm, err := service.NewSecretManagerService(ctx, cfg)
		if err != nil {
			return nil, err
		}
		err = service.ResolveSecrets(ctx, sm, cfg)
		_ = sm.Close()
		if err != nil {
			return nil, fmt.Errorf("resolve secrets: %w", err)
		}
		logger.Info().Msg("Secrets resolved from Secret Manager")
	}

	pool, err := openPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.Pool = pool
	app.closers = append(app.closers, pool.Close)

	var (
		locker      lock.Locker
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		rl, client, err := lock.NewRedisLocker(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		app.closers = append(app.closers, func() { _ = client.Close() })
		locker, redisClient = rl, client
		logger.Info().Msg("Using Redis for pass locks and rate limiting")
	} else {
		locker = lock.NewLocalLocker()
		logger.Warn().Msg("REDIS_URL not set; pass locks and rate limiting are per instance")
	}

	if redisClient != nil {
		limit, window := cronWindow(cfg.CronRateLimit)
		app.CronLimiter = middleware.NewRedisLimiter(redisClient, "mentorship:ratelimit:cron", limit, window)
	} else {
		app.CronLimiter = middleware.NewLocalLimiter(cfg.CronRateLimit, cfg.CronRateBurst)
	}

	var publisher pubsub.Publisher
	if cfg.GCPProjectID != "" {
		p, err := pubsub.NewPublisher(ctx, cfg)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = p.Close() })
		publisher = p
		logger.Info().Str("topic", cfg.EventsTopic).Msg("Publishing lifecycle events to Pub/Sub")
	} else {
		publisher = pubsub.NewQueuePublisher(pgmq.New(pool), cfg.EventsQueue)
		logger.Info().Str("queue", cfg.EventsQueue).Msg("Publishing lifecycle events to pgmq")
	}

	publisher = service.NewDLQPublisher(publisher, repository.NewDLQRepository(pool), logger)

	if cfg.StripeSecretKey == "" {
		logger.Warn().Msg("STRIPE_SECRET_KEY not set; renewals will report provider errors")
	}
	billing := service.NewStripeService(cfg.StripeSecretKey, logger)

	bookingRepo := repository.NewBookingRepo(pool)
	userRepo := repository.NewUserRepo(pool)

	app.Sessions = service.NewSessionService(bookingRepo, userRepo, locker, publisher, service.SessionConfig{
		DelayGrace:  cfg.SessionDelayGrace,
		Concurrency: cfg.SessionPassConcurrency,
		LockTTL:     cfg.PassLockTTL,
		EventsTopic: cfg.EventsTopic,
	}, logger)
	app.Renewals = service.NewRenewalService(userRepo, billing, locker, publisher, service.RenewalConfig{
		Concurrency:     cfg.RenewalPassConcurrency,
		LeaseTTL:        cfg.RenewalLeaseTTL,
		ProviderTimeout: cfg.ProviderTimeout,
		LockTTL:         cfg.PassLockTTL,
		EventsTopic:     cfg.EventsTopic,
	}, logger)
	app.Subscriptions = service.NewSubscriptionService(userRepo, billing, cfg.ProviderTimeout, logger)
	app.Users = service.NewUserService(userRepo, bookingRepo)

	ok = true
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func openPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	logger.Info().Str("environment", cfg.Environment).Str("db_port", portFromDSN(cfg.DBConnectionString)).Msg("Connecting to database")

	dsn := cfg.DBConnectionString
	// Local Postgres usually runs without TLS.
	if cfg.IsDevelopment() && !strings.Contains(dsn, "sslmode") {
		separator := " "
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			if strings.Contains(dsn, "?") {
				separator = "&"
			} else {
				separator = "?"
			}
		}
		dsn += separator + "sslmode=disable"
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = cfg.DBMaxConns
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	// Transaction poolers such as pgbouncer cannot hold server-side
	// prepared statements.
	if !cfg.IsDevelopment() {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info().Msg("Database connection successful")
	return pool, nil
}

// cronWindow turns a per-second rate into the fixed window used by the Redis
// limiter so both limiters allow the same sustained rate.
func cronWindow(perSecond float64) (int, time.Duration) {
	switch {
	case perSecond <= 0:
		return 1, time.Second
	case perSecond < 1:
		return 1, time.Duration(float64(time.Second) / perSecond)
	default:
		return int(math.Round(perSecond)), time.Second
	}
}

// portFromDSN extracts the port of a URL-style DSN for logging.
func portFromDSN(dsn string) string {
	parts := strings.Split(dsn, ":")
	for i, part := range parts {
		if strings.Contains(part, "@") && len(parts) > i+1 {
			return strings.Split(parts[i+1], "/")[0]
		}
	}
	return "not_found"
}
