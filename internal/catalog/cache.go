package catalog

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRefreshTimeout bounds one shared schema refresh.
const DefaultRefreshTimeout = 10 * time.Second

// CachedIntrospector serves a recent schema snapshot and coalesces concurrent
// refreshes into one introspection call. A zero TTL disables caching.
type CachedIntrospector struct {
	Next Introspector
	TTL  time.Duration
	Now  func() time.Time

	// RefreshTimeout bounds the shared refresh, which outlives the caller that
	// started it. Zero means DefaultRefreshTimeout.
	RefreshTimeout time.Duration

	group     singleflight.Group
	mu        sync.RWMutex
	schema    Schema
	fetchedAt time.Time
	valid     bool
}

func NewCachedIntrospector(next Introspector, ttl time.Duration) *CachedIntrospector {
	return &CachedIntrospector{Next: next, TTL: ttl, Now: time.Now}
}

func (c *CachedIntrospector) Introspect(ctx context.Context) (Schema, error) {
	if c.TTL <= 0 {
		return c.Next.Introspect(ctx)
	}
	now := c.now()

	c.mu.RLock()
	if c.valid && now.Sub(c.fetchedAt) < c.TTL {
		schema := c.schema
		c.mu.RUnlock()
		return schema, nil
	}
	c.mu.RUnlock()

	results := c.group.DoChan("schema", func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout())
		defer cancel()
		schema, err := c.Next.Introspect(refreshCtx)
		if err != nil {
			return Schema{}, err
		}
		c.mu.Lock()
		c.schema = schema
		c.fetchedAt = c.now()
		c.valid = true
		c.mu.Unlock()
		return schema, nil
	})
	select {
	case <-ctx.Done():
		return Schema{}, ctx.Err()
	case result := <-results:
		if result.Err != nil {
			return Schema{}, result.Err
		}
		return result.Val.(Schema), nil
	}
}

// Invalidate drops the cached snapshot so the next call introspects again.
// Call it after the underlying tables change.
func (c *CachedIntrospector) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

func (c *CachedIntrospector) refreshTimeout() time.Duration {
	if c.RefreshTimeout > 0 {
		return c.RefreshTimeout
	}
	return DefaultRefreshTimeout
}

func (c *CachedIntrospector) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
