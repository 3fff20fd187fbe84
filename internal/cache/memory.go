package cache

import (
	"context"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-realtime/internal/clock"
	"github.com/NomadCrew/nomad-realtime/types"
)

const backendMemory = "memory"

// MemoryCache is the in-process backend. Expired entries are dropped lazily
// on read and by Prune.
type MemoryCache struct {
	ttl     time.Duration
	clock   clock.Clock
	metrics *cacheMetrics

	mu          sync.Mutex
	owners      map[string]map[Key]Entry
	generations map[string]uint64
}

var _ Cache = (*MemoryCache)(nil)

func NewMemoryCache(ttl time.Duration, clk clock.Clock) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryCache{
		ttl:         ttl,
		clock:       clk,
		metrics:     newCacheMetrics(),
		owners:      make(map[string]map[Key]Entry),
		generations: make(map[string]uint64),
	}
}

func (c *MemoryCache) Get(_ context.Context, key Key) (Entry, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	entry, ok := c.owners[key.OwnerID][key]
	if ok && now.Sub(entry.ComputedAt) >= c.ttl {
		c.deleteLocked(key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		c.metrics.misses.WithLabelValues(backendMemory).Inc()
		return Entry{}, false
	}
	c.metrics.hits.WithLabelValues(backendMemory).Inc()
	entry.Result = copyResult(entry.Result)
	return entry, true
}

func (c *MemoryCache) Generation(_ context.Context, ownerID string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[ownerID], nil
}

func (c *MemoryCache) Set(_ context.Context, key Key, result types.ListResult, gen uint64) bool {
	entry := Entry{Result: copyResult(result), ComputedAt: c.clock.Now()}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[key.OwnerID] != gen {
		c.metrics.staleWrites.WithLabelValues(backendMemory).Inc()
		return false
	}
	bucket, ok := c.owners[key.OwnerID]
	if !ok {
		bucket = make(map[Key]Entry)
		c.owners[key.OwnerID] = bucket
	}
	bucket[key] = entry
	return true
}

func (c *MemoryCache) InvalidateOwner(_ context.Context, ownerID string) error {
	c.mu.Lock()
	delete(c.owners, ownerID)
	c.generations[ownerID]++
	c.mu.Unlock()
	c.metrics.invalidations.WithLabelValues(backendMemory).Inc()
	return nil
}

// Prune drops every expired entry.
func (c *MemoryCache) Prune() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for owner, bucket := range c.owners {
		for key, entry := range bucket {
			if now.Sub(entry.ComputedAt) >= c.ttl {
				delete(bucket, key)
				removed++
			}
		}
		if len(bucket) == 0 {
			delete(c.owners, owner)
		}
	}
	return removed
}

// Len returns the number of cached pages.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, bucket := range c.owners {
		n += len(bucket)
	}
	return n
}

func (c *MemoryCache) deleteLocked(key Key) {
	bucket := c.owners[key.OwnerID]
	delete(bucket, key)
	if len(bucket) == 0 {
		delete(c.owners, key.OwnerID)
	}
}
