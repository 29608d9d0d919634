// Package quotecache keeps the last known quote per symbol and decides when
// a cached quote is stale enough to refetch.
package quotecache

import (
	"context"
	"strings"
	"sync"
	"time"

	"stockdash/internal/models"
)

// DefaultTTL is the maximum age at which a cached quote is served without a
// refetch.
const DefaultTTL = time.Minute

// Fetcher fetches a fresh quote for a symbol. Implemented by market.Client.
type Fetcher interface {
	FetchQuote(ctx context.Context, symbol string) (models.Quote, error)
}

type entry struct {
	quote     models.Quote
	fetchedAt time.Time
}

// Cache is a fetch-through TTL cache keyed by uppercase symbol. A failed
// fetch is propagated and never stored, so it cannot poison the cache or
// block the next attempt. Stale entries are superseded, not evicted: memory
// grows with the set of distinct symbols ever queried, which is fine for a
// bounded watchlist.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
}

func New(fetcher Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// SetNow replaces the clock, used by tests to step through TTL expiry.
func (c *Cache) SetNow(now func() time.Time) {
	c.now = now
}

// Get returns the cached quote for symbol if it is still fresh, otherwise
// fetches a new one, stores it and returns it. Symbol lookup is
// case-insensitive.
func (c *Cache) Get(ctx context.Context, symbol string) (models.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.fetchedAt) < c.ttl {
		return e.quote, nil
	}

	quote, err := c.fetcher.FetchQuote(ctx, symbol)
	if err != nil {
		return models.Quote{}, err
	}

	c.mu.Lock()
	c.entries[symbol] = entry{quote: quote, fetchedAt: c.now()}
	c.mu.Unlock()
	return quote, nil
}

// Lookup returns the cached quote for symbol regardless of age, without
// triggering a fetch.
func (c *Cache) Lookup(symbol string) (models.Quote, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	return e.quote, ok
}

// Snapshot copies every cached quote, fresh or stale.
func (c *Cache) Snapshot() map[string]models.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]models.Quote, len(c.entries))
	for symbol, e := range c.entries {
		out[symbol] = e.quote
	}
	return out
}
