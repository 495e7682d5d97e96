package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts hits per key in clock-aligned fixed windows. Every window
// gets its own Redis key, so steady traffic (the agent heartbeat) cannot keep
// extending an old window.
type RateLimiter struct {
	c   redis.UniversalClient
	now func() time.Time
}

func NewRateLimiter(c redis.UniversalClient) *RateLimiter {
	return &RateLimiter{c: c, now: time.Now}
}

func windowKey(key string, start time.Time) string {
	return fmt.Sprintf("%s:%d", key, start.Unix())
}

// Allow records one hit for key and reports whether the window's count is
// still within limit, along with that count.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	if window <= 0 {
		return false, 0, errors.Errorf("rate limit window must be positive, got %s", window)
	}
	start := rl.now().Truncate(window)
	k := windowKey(key, start)

	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}
