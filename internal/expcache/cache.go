// Package expcache provides a fingerprint-keyed in-memory cache for scan
// expression evaluation results. It exists to avoid re-parsing and
// re-evaluating the same expression against the same symbol on every scan
// refresh tick.
package expcache

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// Mode separates fingerprint namespaces: a scalar value lookup, a single
// condition's boolean series, a condition-column group evaluated together
// under shared and/or logic, and the vectorized static filter.
type Mode string

const (
	ModeValue     Mode = "val"
	ModeCondition Mode = "cond"
	ModeCondCol   Mode = "condcol"
	ModeStatic    Mode = "static_vectorized"
)

// Key builds the cache key for a single symbol's expression evaluation,
// mirroring f"{symbol}_{mode}_{hash(expression)}".
func Key(symbol string, mode Mode, expression string) string {
	return fmt.Sprintf("%s_%s_%d", symbol, mode, fingerprint(expression))
}

// KeyGroup builds the cache key for a set of expressions sharing a symbol
// and combining logic, mirroring the condition-column and static-vectorized
// fingerprints that hash a tuple of per-condition fields.
func KeyGroup(symbol string, mode Mode, logic string, parts ...string) string {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s_%s_%d_%s", symbol, mode, h.Sum64(), logic)
}

func fingerprint(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// Stats reports cache performance counters, mirroring get_cache_stats.
type Stats struct {
	Enabled           bool
	Hits              int64
	Misses            int64
	HitRatePercent    float64
	CachedExpressions int
}

// Cache is a simple in-memory, hit/miss-tracked cache. It is safe for
// concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]any
	enabled bool
	hits    int64
	misses  int64
}

// New creates a Cache, enabled by default.
func New() *Cache {
	return &Cache{entries: make(map[string]any), enabled: true}
}

// Get returns the cached value for key, or (nil, false) on a miss or while
// disabled.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		c.misses++
		return nil, false
	}
	v, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Set stores value under key. A no-op while disabled.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		c.entries[key] = value
	}
}

// Clear empties the cache and resets hit/miss statistics.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]any)
	c.hits = 0
	c.misses = 0
}

// Enable turns caching on.
func (c *Cache) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
}

// Disable turns caching off and clears existing entries.
func (c *Cache) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
	c.entries = make(map[string]any)
}

// IsEnabled reports whether caching is currently active.
func (c *Cache) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// StatsSnapshot returns the current hit/miss statistics.
func (c *Cache) StatsSnapshot() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}
	return Stats{
		Enabled:           c.enabled,
		Hits:              c.hits,
		Misses:            c.misses,
		HitRatePercent:    hitRate,
		CachedExpressions: len(c.entries),
	}
}
