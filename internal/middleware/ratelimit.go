package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more request may pass.
type Limiter interface {
	Allow(ctx context.Context) (bool, error)
}

// LocalLimiter is a token bucket in process memory. Each instance enforces
// its own budget.
type LocalLimiter struct {
	l *rate.Limiter
}

func NewLocalLimiter(perSecond float64, burst int) *LocalLimiter {
	return &LocalLimiter{l: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *LocalLimiter) Allow(context.Context) (bool, error) {
	return l.l.Allow(), nil
}

// RedisLimiter is a fixed-window counter shared by every instance using the
// same Redis.
type RedisLimiter struct {
	client *redis.Client
	key    string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter allows limit requests per window under key.
func NewRedisLimiter(client *redis.Client, key string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, key: key, limit: int64(limit), window: window, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context) (bool, error) {
	bucket := fmt.Sprintf("%s:%d", l.key, l.now().UnixNano()/int64(l.window))
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}
	return incr.Val() <= l.limit, nil
}

// RateLimitMiddleware rejects requests beyond the limiter's budget with 429.
// When the limiter itself fails the request is let through.
func RateLimitMiddleware(limiter Limiter, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context())
			if err != nil {
				logger.Warn().Err(err).Msg("Rate limiter unavailable; allowing request")
				allowed = true
			}
			if !allowed {
				logger.Warn().Str("path", r.URL.Path).Msg("Rate limit exceeded")
				w.Header().Set("Retry-After", "1")
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
