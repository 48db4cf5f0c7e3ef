// Package ratelimit throttles inbound chat updates per user with fixed
// one-minute windows counted in Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "lottery_bot:ratelimit:"
	window    = time.Minute
)

type redisClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// newClient is overridable for tests.
var newClient = func(opt *redis.Options) redisClient {
	return redis.NewClient(opt)
}

// Limiter allows at most limit updates per user per window.
type Limiter struct {
	client redisClient
	limit  int64
	now    func() time.Time
}

// New connects to the Redis instance at rawURL.
func New(rawURL string, limit int) (*Limiter, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be greater than 0")
	}

	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	return &Limiter{
		client: newClient(opt),
		limit:  int64(limit),
		now:    time.Now,
	}, nil
}

// Allow counts one update for userID and reports whether it is within the
// limit. A nil Limiter allows everything.
func (l *Limiter) Allow(ctx context.Context, userID int64) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}
	if ctx == nil {
		return true, errors.New("context is required")
	}

	slot := l.now().UTC().Truncate(window).Unix()
	key := keyPrefix + strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(slot, 10)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return true, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			return true, fmt.Errorf("expire %s: %w", key, err)
		}
	}

	return count <= l.limit, nil
}

// Ping verifies Redis is reachable.
func (l *Limiter) Ping(ctx context.Context) error {
	if l == nil || l.client == nil {
		return errors.New("rate limiter is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (l *Limiter) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}
