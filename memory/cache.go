package memory

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

// cachedEmbedding is the value stored per content string: the final
// (possibly normalized) vector and its quality score.
type cachedEmbedding struct {
	Vector  []float32
	Quality float64
}

// embeddingCache is a TTL and capacity bounded cache keyed by raw content.
// It is scoped to one pipeline instance so independent pipelines do not
// interfere. Backed by ristretto; eviction on overflow follows its admission
// policy, which satisfies the engine's "any entry may go" contract.
type embeddingCache struct {
	cache *ristretto.Cache
	ttl   time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// newEmbeddingCache creates a cache holding up to capacity entries. A zero
// capacity returns a nil cache, which disables caching.
func newEmbeddingCache(capacity int64, ttl time.Duration) (*embeddingCache, error) {
	if capacity <= 0 {
		return nil, nil
	}
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: capacity * 10,
		MaxCost:     capacity,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &embeddingCache{cache: rc, ttl: ttl}, nil
}

// Get returns the cached embedding for content, if present and unexpired.
func (c *embeddingCache) Get(content string) (cachedEmbedding, bool) {
	if c == nil {
		return cachedEmbedding{}, false
	}
	v, ok := c.cache.Get(content)
	if !ok {
		c.misses.Add(1)
		return cachedEmbedding{}, false
	}
	entry, ok := v.(cachedEmbedding)
	if !ok {
		c.misses.Add(1)
		return cachedEmbedding{}, false
	}
	c.hits.Add(1)
	return entry, true
}

// Set stores the final vector and quality score for content.
func (c *embeddingCache) Set(content string, vec []float32, quality float64) {
	if c == nil {
		return
	}
	c.cache.SetWithTTL(content, cachedEmbedding{Vector: vec, Quality: quality}, 1, c.ttl)
}

// Wait flushes pending writes. Used by tests to make Set visible to Get.
func (c *embeddingCache) Wait() {
	if c != nil {
		c.cache.Wait()
	}
}

// Hits returns the number of cache hits since creation or the last reset.
func (c *embeddingCache) Hits() int64 {
	if c == nil {
		return 0
	}
	return c.hits.Load()
}

// Misses returns the number of cache misses since creation or the last reset.
func (c *embeddingCache) Misses() int64 {
	if c == nil {
		return 0
	}
	return c.misses.Load()
}

// ResetCounters zeroes the hit/miss counters.
func (c *embeddingCache) ResetCounters() {
	if c == nil {
		return
	}
	c.hits.Store(0)
	c.misses.Store(0)
}

// Close releases cache resources.
func (c *embeddingCache) Close() {
	if c != nil {
		c.cache.Close()
	}
}
