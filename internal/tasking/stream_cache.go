package tasking

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/telemetry"
)

// cacheStripes is the number of fill locks. Keys hash onto a stripe by id.
const cacheStripes = 64

// Cache defaults, used when Options leaves them unset.
const (
	DefaultCacheMaxEntries = 100
	DefaultCacheTTL        = time.Minute
)

// streamCache is a bounded read-through cache of command streams.
//
// Fills and invalidations of one id hold the same stripe lock, so a fill
// that read a row before a write committed cannot outlive that write's
// invalidation. Cached values are private copies.
type streamCache struct {
	items   *ttlcache.Cache[int64, *CommandStream]
	stripes [cacheStripes]sync.Mutex
	metrics *telemetry.Metrics
}

func newStreamCache(maxEntries int, ttl time.Duration, metrics *telemetry.Metrics) *streamCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	items := ttlcache.New[int64, *CommandStream](
		ttlcache.WithTTL[int64, *CommandStream](ttl),
		ttlcache.WithCapacity[int64, *CommandStream](uint64(maxEntries)),
	)
	go items.Start() // evicts expired entries in the background

	return &streamCache{items: items, metrics: metrics}
}

func (c *streamCache) stripe(id int64) *sync.Mutex {
	return &c.stripes[uint64(id)%cacheStripes]
}

// lookup returns a copy of the cached stream. A hit refreshes its expiry.
func (c *streamCache) lookup(id int64) (*CommandStream, bool) {
	item := c.items.Get(id)
	if item == nil {
		return nil, false
	}
	return item.Value().DeepCopy(), true
}

// getOrLoad returns the cached stream or loads it once under the id's stripe.
// Absent rows are not cached.
func (c *streamCache) getOrLoad(ctx context.Context, id int64, load func(context.Context, int64) (*CommandStream, error)) (*CommandStream, error) {
	if s, ok := c.lookup(id); ok {
		c.metrics.CacheHit(ctx)
		return s, nil
	}

	mu := c.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	// Another caller may have filled it while we waited.
	if s, ok := c.lookup(id); ok {
		c.metrics.CacheHit(ctx)
		return s, nil
	}
	c.metrics.CacheMiss(ctx)

	s, err := load(ctx, id)
	if err != nil || s == nil {
		return nil, err
	}
	c.items.Set(id, s.DeepCopy(), ttlcache.DefaultTTL)
	return s, nil
}

// invalidate drops the entry for id.
func (c *streamCache) invalidate(id int64) {
	mu := c.stripe(id)
	mu.Lock()
	c.items.Delete(id)
	mu.Unlock()
}

// clear drops every entry. All stripes are held so no fill lands mid-clear.
func (c *streamCache) clear() {
	for i := range c.stripes {
		c.stripes[i].Lock()
	}
	c.items.DeleteAll()
	for i := range c.stripes {
		c.stripes[i].Unlock()
	}
}

func (c *streamCache) len() int {
	return c.items.Len()
}

func (c *streamCache) stop() {
	c.items.Stop()
}
