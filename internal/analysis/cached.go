package analysis

import (
	"context"
	"time"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/cache"
	"futures-hedge-bot/internal/logging"
)

// Cached wraps a Provider with a time-boxed answer cache. The TTL
// shrinks when the pair's recent price movement exceeds the configured
// volatility threshold, so stale levels don't survive a fast market.
type Cached struct {
	inner  Provider
	prices *cache.PriceCache
	advice *cache.TTLCache
	log    *logging.Logger

	ttl         time.Duration
	volatileTTL time.Duration
	threshold   float64
}

// NewCached builds the caching wrapper. prices may be nil, in which
// case the volatility shortening never triggers.
func NewCached(inner Provider, prices *cache.PriceCache, cfg config.AnalysisConfig) *Cached {
	ttl := time.Duration(cfg.CacheTTLSecs) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	volatile := time.Duration(cfg.VolatileTTLSecs) * time.Second
	if volatile <= 0 || volatile > ttl {
		volatile = ttl / 5
	}
	return &Cached{
		inner:       inner,
		prices:      prices,
		advice:      cache.NewTTLCache(),
		log:         logging.Default().WithComponent("analysis"),
		ttl:         ttl,
		volatileTTL: volatile,
		threshold:   cfg.VolatilityThreshold,
	}
}

// Advise returns the cached answer when one is fresh, otherwise asks
// the wrapped provider and caches what comes back.
func (c *Cached) Advise(ctx context.Context, req Request) (*Advice, error) {
	key := req.Pair + "|" + string(req.Side)
	if v, ok := c.advice.Get(key); ok {
		if adv, ok := v.(*Advice); ok {
			cp := *adv
			return &cp, nil
		}
	}

	adv, err := c.inner.Advise(ctx, req)
	if err != nil {
		return nil, err
	}
	c.advice.Put(key, adv, c.ttlFor(req.Pair))
	cp := *adv
	return &cp, nil
}

// ttlFor picks the cache lifetime for a pair from its recent movement.
func (c *Cached) ttlFor(pair string) time.Duration {
	if c.prices == nil || c.threshold <= 0 {
		return c.ttl
	}
	move := c.prices.RecentMove(pair)
	if move > c.threshold {
		c.log.Debug("volatile market, shortening analysis cache",
			"pair", pair, "recent_move", move, "ttl", c.volatileTTL.String())
		return c.volatileTTL
	}
	return c.ttl
}
