package recoveryinfra

import (
	"context"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/homestead/pkg/recovery"
)

// RedisRequestLimiter is a fixed-window counter per email.
type RedisRequestLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

var _ recovery.RequestLimiter = (*RedisRequestLimiter)(nil)

// NewRedisRequestLimiter allows limit requests per email every window.
func NewRedisRequestLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisRequestLimiter {
	if prefix == "" {
		prefix = "recovery"
	}
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &RedisRequestLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

func (l *RedisRequestLimiter) key(email string) string {
	return l.prefix + ":requests:" + email
}

func (l *RedisRequestLimiter) Allow(ctx context.Context, email string) error {
	key := l.key(email)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return recovery.ErrStoreUnavailable(err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return recovery.ErrStoreUnavailable(err)
		}
	}
	if count <= int64(l.limit) {
		return nil
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil {
		return recovery.ErrStoreUnavailable(err)
	}
	if ttl <= 0 {
		// The expiry of the first request was lost; restart the window.
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return recovery.ErrStoreUnavailable(err)
		}
		ttl = l.window
	}
	return recovery.ErrTooManyRequests().
		WithDetail("retry_after_seconds", int(math.Ceil(ttl.Seconds())))
}
