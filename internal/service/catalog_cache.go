package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// CatalogCache is a short-TTL redis cache for public catalog responses.
// Availability numbers change on every activation and return, so the TTL
// stays in the tens of seconds; the ledger remains the source of truth and
// a nil client disables caching entirely.
type CatalogCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCatalogCache builds a cache around an optional redis client.
func NewCatalogCache(rdb *redis.Client, ttl time.Duration) *CatalogCache {
	return &CatalogCache{rdb: rdb, ttl: ttl}
}

// Get returns the cached JSON body for a key, or false on miss, disabled
// cache or redis error.
func (c *CatalogCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	body, err := c.rdb.Get(ctx, "catalog:"+key).Bytes()
	if err != nil {
		return nil, false
	}
	return body, true
}

// Set stores a JSON body under the key for the configured TTL. Errors are
// ignored; the next request simply misses.
func (c *CatalogCache) Set(ctx context.Context, key string, body []byte) {
	if c == nil || c.rdb == nil {
		return
	}
	c.rdb.Set(ctx, "catalog:"+key, body, c.ttl)
}
