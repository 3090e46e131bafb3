package cache

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Constants for in-memory cache configuration
const (
	defaultMemoryTTL     = 30 * time.Second
	defaultSweepInterval = 10 * time.Second
)

// MemoryCache is the tier-1 process-local cache. Entries expire after a
// short TTL so that definition changes propagate across instances within
// one tier-1 window even without an explicit invalidation.
type MemoryCache struct {
	entries       sync.Map // map[string]*memoryEntry
	ttl           time.Duration
	sweepInterval time.Duration
	logger        *zap.Logger
	stopCh        chan struct{}
	stopped       int32

	// Stats for monitoring
	hits   int64
	misses int64
}

// memoryEntry wraps a cached payload with its expiration time
type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e *memoryEntry) isExpired() bool {
	return time.Now().After(e.expiresAt)
}

// MemoryCacheOption is a functional option for configuring the cache
type MemoryCacheOption func(*MemoryCache)

// WithMemoryTTL sets the default entry TTL
func WithMemoryTTL(ttl time.Duration) MemoryCacheOption {
	return func(c *MemoryCache) {
		c.ttl = ttl
	}
}

// WithMemorySweepInterval sets how often expired entries are swept
func WithMemorySweepInterval(interval time.Duration) MemoryCacheOption {
	return func(c *MemoryCache) {
		c.sweepInterval = interval
	}
}

// WithMemoryLogger sets the logger for the cache
func WithMemoryLogger(logger *zap.Logger) MemoryCacheOption {
	return func(c *MemoryCache) {
		c.logger = logger
	}
}

// NewMemoryCache creates a new in-memory cache and starts its background
// sweep goroutine. Call Close to stop it.
func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	cache := &MemoryCache{
		ttl:           defaultMemoryTTL,
		sweepInterval: defaultSweepInterval,
		logger:        zap.NewNop(),
		stopCh:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(cache)
	}

	go cache.sweepExpired()

	return cache
}

// Get retrieves a payload. A miss or an expired entry returns nil, nil.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	if value, ok := c.entries.Load(key); ok {
		entry := value.(*memoryEntry)
		if !entry.isExpired() {
			atomic.AddInt64(&c.hits, 1)
			return entry.data, nil
		}
		c.entries.Delete(key)
	}

	atomic.AddInt64(&c.misses, 1)
	return nil, nil
}

// Set stores a payload. A zero ttl uses the cache default.
func (c *MemoryCache) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	c.entries.Store(key, &memoryEntry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	})
	return nil
}

// Delete removes a single entry
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.entries.Delete(key)
	return nil
}

// DeletePattern removes every entry whose key matches the glob pattern
// (`*` matches any run of characters, `?` a single character).
func (c *MemoryCache) DeletePattern(_ context.Context, pattern string) error {
	re, err := globToRegexp(pattern)
	if err != nil {
		return err
	}

	removed := 0
	c.entries.Range(func(key, _ any) bool {
		if re.MatchString(key.(string)) {
			c.entries.Delete(key)
			removed++
		}
		return true
	})

	if removed > 0 {
		c.logger.Debug("deleted cache entries by pattern",
			zap.String("pattern", pattern),
			zap.Int("removed", removed))
	}
	return nil
}

// Flush removes every entry
func (c *MemoryCache) Flush(_ context.Context) error {
	c.entries.Range(func(key, _ any) bool {
		c.entries.Delete(key)
		return true
	})
	return nil
}

// Len returns the number of entries, expired ones included
func (c *MemoryCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Stats returns hit and miss counters
func (c *MemoryCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *MemoryCache) Close() error {
	if atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		close(c.stopCh)
	}
	return nil
}

// sweepExpired periodically removes expired entries so abandoned keys do
// not accumulate between reads
func (c *MemoryCache) sweepExpired() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			removed := 0
			c.entries.Range(func(key, value any) bool {
				if value.(*memoryEntry).isExpired() {
					c.entries.Delete(key)
					removed++
				}
				return true
			})
			if removed > 0 {
				c.logger.Debug("swept expired cache entries", zap.Int("removed", removed))
			}
		}
	}
}

// globToRegexp translates a glob pattern into an anchored regexp.
// Everything except `*` and `?` is matched literally.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}
