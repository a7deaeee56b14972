package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const numShards = 16

// MarkCache holds the latest reference (mark) price per instrument, sharded to keep
// tick updates for different instruments off each other's locks.
type MarkCache struct {
	shards [numShards]*markShard
}

type markShard struct {
	mu    sync.RWMutex
	items map[string]markEntry
}

type markEntry struct {
	price     decimal.Decimal
	updatedAt time.Time
}

// NewMarkCache creates an empty cache.
func NewMarkCache() *MarkCache {
	c := &MarkCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &markShard{items: make(map[string]markEntry)}
	}
	return c
}

// ShardIndex maps key onto one of n buckets with FNV-1a.
func ShardIndex(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (c *MarkCache) shard(symbol string) *markShard {
	return c.shards[ShardIndex(symbol, numShards)]
}

// Set stores the mark for a symbol.
func (c *MarkCache) Set(symbol string, price decimal.Decimal) {
	s := c.shard(symbol)
	s.mu.Lock()
	s.items[symbol] = markEntry{price: price, updatedAt: time.Now()}
	s.mu.Unlock()
}

// Get returns the mark for a symbol.
func (c *MarkCache) Get(symbol string) (decimal.Decimal, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	e, ok := s.items[symbol]
	s.mu.RUnlock()
	return e.price, ok
}

// GetWithAge returns the mark and how long ago it was set.
func (c *MarkCache) GetWithAge(symbol string) (decimal.Decimal, time.Duration, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	e, ok := s.items[symbol]
	s.mu.RUnlock()
	if !ok {
		return decimal.Zero, 0, false
	}
	return e.price, time.Since(e.updatedAt), true
}

// Delete removes a symbol.
func (c *MarkCache) Delete(symbol string) {
	s := c.shard(symbol)
	s.mu.Lock()
	delete(s.items, symbol)
	s.mu.Unlock()
}

// Len returns total items across all shards.
func (c *MarkCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup removes marks older than maxAge.
func (c *MarkCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, s := range c.shards {
		s.mu.Lock()
		for sym, e := range s.items {
			if e.updatedAt.Before(cutoff) {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// All returns a copy of every cached mark.
func (c *MarkCache) All() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, s := range c.shards {
		s.mu.RLock()
		for sym, e := range s.items {
			out[sym] = e.price
		}
		s.mu.RUnlock()
	}
	return out
}
