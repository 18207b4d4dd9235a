package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const numShards = 16

// PriceCache holds the latest mark price per instrument, sharded by symbol hash
// so the stream writer and gateway readers rarely contend.
type PriceCache struct {
	shards [numShards]*priceShard
	now    func() time.Time
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]PriceEntry
}

// PriceEntry is one cached quote.
type PriceEntry struct {
	Price     decimal.Decimal
	UpdatedAt time.Time
}

// NewPriceCache creates an empty cache.
func NewPriceCache() *PriceCache {
	c := &PriceCache{now: time.Now}
	for i := range c.shards {
		c.shards[i] = &priceShard{items: make(map[string]PriceEntry)}
	}
	return c
}

func (c *PriceCache) shard(symbol string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a price for symbol stamped with the current time.
func (c *PriceCache) Set(symbol string, price decimal.Decimal) {
	s := c.shard(symbol)
	s.mu.Lock()
	s.items[symbol] = PriceEntry{Price: price, UpdatedAt: c.now()}
	s.mu.Unlock()
}

// Get returns the cached entry for symbol.
func (c *PriceCache) Get(symbol string) (PriceEntry, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	e, ok := s.items[symbol]
	s.mu.RUnlock()
	return e, ok
}

// Fresh returns the price only if it was updated within maxAge.
func (c *PriceCache) Fresh(symbol string, maxAge time.Duration) (decimal.Decimal, bool) {
	e, ok := c.Get(symbol)
	if !ok || c.now().Sub(e.UpdatedAt) > maxAge {
		return decimal.Zero, false
	}
	return e.Price, true
}

// Delete removes symbol.
func (c *PriceCache) Delete(symbol string) {
	s := c.shard(symbol)
	s.mu.Lock()
	delete(s.items, symbol)
	s.mu.Unlock()
}

// Len returns total items across all shards.
func (c *PriceCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries older than maxAge and returns how many were dropped.
func (c *PriceCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := c.now().Add(-maxAge)
	for _, s := range c.shards {
		s.mu.Lock()
		for sym, e := range s.items {
			if e.UpdatedAt.Before(cutoff) {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// All returns a copy of every cached price.
func (c *PriceCache) All() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, s := range c.shards {
		s.mu.RLock()
		for sym, e := range s.items {
			out[sym] = e.Price
		}
		s.mu.RUnlock()
	}
	return out
}
