package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Remote is the tier-2 contract. RedisCache is the production
// implementation; tests substitute a stub.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) error
	Close() error
}

// TieredCache layers the process-local MemoryCache over a shared remote
// cache. Reads go tier-1 first and promote tier-2 hits; a tier-2 failure
// degrades the read to a miss so the caller falls through to its store.
// Writes go through both tiers; a tier-2 write failure is logged but not
// raised, since the entry will be repopulated on the next read.
type TieredCache struct {
	tier1  *MemoryCache
	tier2  Remote
	logger *zap.Logger

	tier1Hits   int64
	tier2Hits   int64
	tier2Misses int64
}

// TieredCacheOption is a functional option for configuring the cache
type TieredCacheOption func(*TieredCache)

// WithTieredLogger sets the logger for the cache
func WithTieredLogger(logger *zap.Logger) TieredCacheOption {
	return func(c *TieredCache) {
		c.logger = logger
	}
}

// NewTieredCache creates a new two-tier cache
func NewTieredCache(tier1 *MemoryCache, tier2 Remote, opts ...TieredCacheOption) *TieredCache {
	cache := &TieredCache{
		tier1:  tier1,
		tier2:  tier2,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(cache)
	}

	return cache
}

// Get retrieves a payload, checking tier-1 then tier-2. A tier-2 hit is
// promoted into tier-1 with the tier-1 TTL.
func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.tier1.Get(ctx, key)
	if err == nil && data != nil {
		atomic.AddInt64(&c.tier1Hits, 1)
		return data, nil
	}

	data, err = c.tier2.Get(ctx, key)
	if err != nil {
		c.logger.Warn("tier-2 cache read failed, treating as miss",
			zap.String("key", key),
			zap.Error(err))
		return nil, nil
	}
	if data == nil {
		atomic.AddInt64(&c.tier2Misses, 1)
		return nil, nil
	}

	atomic.AddInt64(&c.tier2Hits, 1)
	if err := c.tier1.Set(ctx, key, data, 0); err != nil {
		c.logger.Warn("failed to promote entry into tier-1",
			zap.String("key", key),
			zap.Error(err))
	}
	return data, nil
}

// Set writes through both tiers. The ttl applies to tier-2; tier-1 uses
// its own shorter TTL.
func (c *TieredCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := c.tier1.Set(ctx, key, data, 0); err != nil {
		return err
	}
	if err := c.tier2.Set(ctx, key, data, ttl); err != nil {
		c.logger.Warn("tier-2 cache write failed",
			zap.String("key", key),
			zap.Error(err))
	}
	return nil
}

// Delete removes the entry from both tiers. A tier-2 failure is
// returned: a stale shared entry would outlive the local eviction.
func (c *TieredCache) Delete(ctx context.Context, key string) error {
	if err := c.tier1.Delete(ctx, key); err != nil {
		return err
	}
	return c.tier2.Delete(ctx, key)
}

// DeletePattern removes matching entries from both tiers
func (c *TieredCache) DeletePattern(ctx context.Context, pattern string) error {
	if err := c.tier1.DeletePattern(ctx, pattern); err != nil {
		return err
	}
	return c.tier2.DeletePattern(ctx, pattern)
}

// Stats returns per-tier hit counters
func (c *TieredCache) Stats() (tier1Hits, tier2Hits, tier2Misses int64) {
	return atomic.LoadInt64(&c.tier1Hits),
		atomic.LoadInt64(&c.tier2Hits),
		atomic.LoadInt64(&c.tier2Misses)
}

// Close releases both tiers
func (c *TieredCache) Close() error {
	err := c.tier2.Close()
	if cerr := c.tier1.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

var _ Remote = (*RedisCache)(nil)
