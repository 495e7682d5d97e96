// Package rediscache holds the Redis-backed pieces shared by track-api and the
// agent publisher: the snapshot/session byte cache and the request limiter.
// Both take one client so a process keeps a single connection pool.
package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Dial builds a client. Connections are opened lazily on first use.
func Dial(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// RedisCache implements cache.BytesCache. It does not own the client.
type RedisCache struct {
	c redis.UniversalClient
}

func New(c redis.UniversalClient) *RedisCache {
	return &RedisCache{c: c}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, errors.Wrapf(err, "redis get %s", key)
	}
	return val, true, nil
}

// Set stores value; ttl <= 0 keeps the key until it is deleted.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return errors.Wrapf(r.c.Set(ctx, key, value, ttl).Err(), "redis set %s", key)
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(r.c.Del(ctx, key).Err(), "redis del %s", key)
}

// Ping reports whether Redis answers; track-api uses it for readiness.
func (r *RedisCache) Ping(ctx context.Context) error {
	return errors.Wrap(r.c.Ping(ctx).Err(), "redis ping")
}
