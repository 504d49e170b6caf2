package cache

import (
	"strings"
	"sync"
	"time"

	"futures-hedge-bot/internal/exchange"
)

// pricePoint is one observed price with its arrival time.
type pricePoint struct {
	value float64
	at    time.Time
}

// PriceCache holds recent mark prices per pair. Besides serving the
// latest price it keeps a short history window so callers can measure
// recent volatility.
type PriceCache struct {
	mu     sync.RWMutex
	maxAge time.Duration
	window time.Duration
	points map[string][]pricePoint
}

// NewPriceCache creates a cache serving prices younger than maxAge and
// measuring volatility over window.
func NewPriceCache(maxAge, window time.Duration) *PriceCache {
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	if window < maxAge {
		window = 5 * time.Minute
	}
	return &PriceCache{
		maxAge: maxAge,
		window: window,
		points: make(map[string][]pricePoint),
	}
}

// Put records a price observation for a pair.
func (c *PriceCache) Put(pair string, price float64) {
	c.putAt(pair, price, time.Now())
}

func (c *PriceCache) putAt(pair string, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	key := strings.ToUpper(pair)

	c.mu.Lock()
	defer c.mu.Unlock()

	pts := append(c.points[key], pricePoint{value: price, at: at})
	cutoff := at.Add(-c.window)
	for len(pts) > 0 && pts[0].at.Before(cutoff) {
		pts = pts[1:]
	}
	c.points[key] = pts
}

// Get returns the latest price for a pair if it is fresh enough.
func (c *PriceCache) Get(pair string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pts := c.points[strings.ToUpper(pair)]
	if len(pts) == 0 {
		return 0, false
	}
	last := pts[len(pts)-1]
	if time.Since(last.at) > c.maxAge {
		return 0, false
	}
	return last.value, true
}

// RecentMove returns the price range over the volatility window as a
// fraction of the latest price. Pairs with fewer than two observations
// report zero.
func (c *PriceCache) RecentMove(pair string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pts := c.points[strings.ToUpper(pair)]
	if len(pts) < 2 {
		return 0
	}

	low, high := pts[0].value, pts[0].value
	for _, p := range pts[1:] {
		if p.value < low {
			low = p.value
		}
		if p.value > high {
			high = p.value
		}
	}

	last := pts[len(pts)-1].value
	if last <= 0 {
		return 0
	}
	return (high - low) / last
}

// BalanceCache holds the last fetched balance per credential.
type BalanceCache struct {
	mu      sync.RWMutex
	maxAge  time.Duration
	entries map[string]balanceEntry
}

type balanceEntry struct {
	balance exchange.Balance
	at      time.Time
}

// NewBalanceCache creates a balance cache with the given freshness bound.
func NewBalanceCache(maxAge time.Duration) *BalanceCache {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &BalanceCache{
		maxAge:  maxAge,
		entries: make(map[string]balanceEntry),
	}
}

// Put records a fetched balance for a credential.
func (c *BalanceCache) Put(credential string, b exchange.Balance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[credential] = balanceEntry{balance: b, at: time.Now()}
}

// Get returns the cached balance if it is fresh enough.
func (c *BalanceCache) Get(credential string) (exchange.Balance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[credential]
	if !ok || time.Since(e.at) > c.maxAge {
		return exchange.Balance{}, false
	}
	return e.balance, true
}

// TTLCache is a generic in-process cache with a TTL chosen per Put, used
// by the analysis wrapper where the TTL shrinks under volatility.
type TTLCache struct {
	mu      sync.RWMutex
	entries map[string]ttlEntry
}

type ttlEntry struct {
	value    interface{}
	storedAt time.Time
	ttl      time.Duration
}

// NewTTLCache creates an empty cache.
func NewTTLCache() *TTLCache {
	return &TTLCache{entries: make(map[string]ttlEntry)}
}

// Put stores a value with its own TTL.
func (c *TTLCache) Put(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ttlEntry{value: value, storedAt: time.Now(), ttl: ttl}
}

// Get returns a stored value that has not expired.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Since(e.storedAt) > e.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Delete removes a key.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Purge drops all expired entries and returns how many were removed.
func (c *TTLCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if time.Since(e.storedAt) > e.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries including any not yet purged.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
