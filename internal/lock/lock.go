// Package lock provides named, expiring locks used to keep a batch pass from
// running twice at the same time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when the lock is held elsewhere.
var ErrLocked = errors.New("lock is held")

// Release gives a lock back.
type Release func(ctx context.Context) error

// Locker acquires named locks without waiting.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (Release, error)
}

// RedisLocker is a Locker shared by every instance talking to the same Redis.
type RedisLocker struct {
	rs     *redsync.Redsync
	prefix string
}

// NewRedisLocker builds a redsync-backed Locker from a redis:// URL.
func NewRedisLocker(redisURL string) (*RedisLocker, *redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return &RedisLocker{rs: redsync.New(goredis.NewPool(client)), prefix: "mentorship:lock:"}, client, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (Release, error) {
	m := l.rs.NewMutex(l.prefix+name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)
	if err := m.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return func(ctx context.Context) error {
		if _, err := m.UnlockContext(ctx); err != nil {
			return fmt.Errorf("release lock %s: %w", name, err)
		}
		return nil
	}, nil
}

// LocalLocker keeps locks in process memory. It only excludes callers in the
// same process; deployments with more than one instance need RedisLocker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, name string, ttl time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if until, ok := l.held[name]; ok && now.Before(until) {
		return nil, ErrLocked
	}
	until := now.Add(ttl)
	l.held[name] = until
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// a lock that expired and was re-taken belongs to someone else
		if l.held[name].Equal(until) {
			delete(l.held, name)
		}
		return nil
	}, nil
}
