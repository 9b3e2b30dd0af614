package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Anvoria/loginguard/internal/geo"
)

const (
	// GeoCachePrefix is the prefix for cached address lookups
	GeoCachePrefix = "geo:ip:"
	// DefaultGeoCacheTTL is used when no TTL is configured
	DefaultGeoCacheTTL = 24 * time.Hour
)

// GeoCache memoizes Locator results in Redis. A cache failure falls through
// to the wrapped locator; it never fails the lookup.
type GeoCache struct {
	client *redis.Client
	next   geo.Locator
	ttl    time.Duration
}

// NewGeoCache wraps next with a Redis read-through cache
func NewGeoCache(client *redis.Client, next geo.Locator, ttl time.Duration) *GeoCache {
	if ttl <= 0 {
		ttl = DefaultGeoCacheTTL
	}
	return &GeoCache{client: client, next: next, ttl: ttl}
}

// Lookup returns the cached location for address or resolves and stores it
func (c *GeoCache) Lookup(ctx context.Context, address string) geo.Location {
	addr, ok := geo.ParseAddress(address)
	if !ok || !geo.Routable(addr) {
		return geo.Location{}
	}
	cacheKey := GeoCachePrefix + addr.String()

	cached, err := c.client.Get(ctx, cacheKey).Bytes()
	if err == nil {
		var loc geo.Location
		if err := json.Unmarshal(cached, &loc); err == nil {
			slog.Debug("Geo cache hit", "key", cacheKey)
			return loc
		}
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("Geo cache read failed", "key", cacheKey, "error", err)
	}

	loc := c.next.Lookup(ctx, address)

	data, err := json.Marshal(loc)
	if err == nil {
		if err := c.client.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
			slog.Warn("Failed to store location in Redis cache", "key", cacheKey, "error", err)
		} else {
			slog.Debug("Location cached in Redis", "key", cacheKey, "ttl", c.ttl)
		}
	}

	return loc
}
