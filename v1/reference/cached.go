package reference

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mirkobrombin/go-gracelock/v1/cache"
)

// DefaultCacheTTL bounds how long a resolved unit of measure is reused.
const DefaultCacheTTL = 10 * time.Minute

// CachedLookup memoizes another Lookup. Concurrent misses for the same
// product share one upstream call; failures are not cached.
type CachedLookup struct {
	next  Lookup
	cache cache.Cache[float64]
	ttl   time.Duration
	group singleflight.Group
}

// NewCachedLookup wraps next with c. A non-positive ttl uses
// DefaultCacheTTL.
func NewCachedLookup(next Lookup, c cache.Cache[float64], ttl time.Duration) *CachedLookup {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedLookup{next: next, cache: c, ttl: ttl}
}

// UnitOfMeasure implements Lookup.
func (c *CachedLookup) UnitOfMeasure(ctx context.Context, product string) (float64, error) {
	key := "uom:" + product
	if v, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		uom, err := c.next.UnitOfMeasure(ctx, product)
		if err != nil {
			return 0.0, err
		}
		_ = c.cache.Set(ctx, key, uom, c.ttl)
		return uom, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// Forget drops the cached value of product.
func (c *CachedLookup) Forget(ctx context.Context, product string) error {
	return c.cache.Invalidate(ctx, "uom:"+product)
}
