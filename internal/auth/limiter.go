package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockoutWindow     = 60 * time.Second
	maxFailedAttempts = 2
)

// LoginLimiter tracks failed login attempts per username so that repeated
// failures lock the account out for the window. Injected so a single-process
// deployment can use the in-memory implementation while a multi-process one
// backs it with Redis.
type LoginLimiter interface {
	// Allow reports whether the username may attempt a login right now.
	Allow(ctx context.Context, username string) (bool, error)
	RecordFailure(ctx context.Context, username string) error
	Clear(ctx context.Context, username string) error
}

// MemoryLoginLimiter keeps failure timestamps in process memory. Entries
// older than the lockout window are pruned lazily on each check.
type MemoryLoginLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time

	now func() time.Time
}

func NewMemoryLoginLimiter() *MemoryLoginLimiter {
	return &MemoryLoginLimiter{
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (l *MemoryLoginLimiter) Allow(ctx context.Context, username string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.failures[username][:0]
	for _, ts := range l.failures[username] {
		if now.Sub(ts) < lockoutWindow {
			recent = append(recent, ts)
		}
	}
	if len(recent) == 0 {
		delete(l.failures, username)
	} else {
		l.failures[username] = recent
	}

	return len(recent) < maxFailedAttempts, nil
}

func (l *MemoryLoginLimiter) RecordFailure(ctx context.Context, username string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures[username] = append(l.failures[username], l.now())
	return nil
}

func (l *MemoryLoginLimiter) Clear(ctx context.Context, username string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.failures, username)
	return nil
}

// RedisLoginLimiter shares lockout state across processes. The counter key
// expires with the lockout window, which gives the same lazy pruning the
// in-memory version does.
type RedisLoginLimiter struct {
	client *redis.Client
}

func NewRedisLoginLimiter(client *redis.Client) *RedisLoginLimiter {
	return &RedisLoginLimiter{client: client}
}

func loginFailKey(username string) string {
	return fmt.Sprintf("login_fail:%s", username)
}

func (l *RedisLoginLimiter) Allow(ctx context.Context, username string) (bool, error) {
	count, err := l.client.Get(ctx, loginFailKey(username)).Int()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read login failures: %w", err)
	}
	return count < maxFailedAttempts, nil
}

func (l *RedisLoginLimiter) RecordFailure(ctx context.Context, username string) error {
	key := loginFailKey(username)
	pipe := l.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, lockoutWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record login failure: %w", err)
	}
	return nil
}

func (l *RedisLoginLimiter) Clear(ctx context.Context, username string) error {
	return l.client.Del(ctx, loginFailKey(username)).Err()
}
