// Package memcache is the in-process BytesCache used when no Redis is configured.
package memcache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type MemCache struct {
	c *gocache.Cache
}

func New(cleanupInterval time.Duration) *MemCache {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemCache{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (m *MemCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false, nil
	}
	return b, true, nil
}

func (m *MemCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	cp := append([]byte(nil), value...)
	m.c.Set(key, cp, ttl)
	return nil
}

func (m *MemCache) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}
