package exchange

import (
	"sync"
	"time"

	"futures-hedge-bot/internal/logging"
)

// Priority tiers for the weight budget. Order placement must go through
// even when background reads are already throttled.
type Priority int

const (
	PriorityCritical Priority = iota // opens, closes, TP placement
	PriorityHigh                     // position and balance reads
	PriorityNormal                   // prices, market data
	PriorityLow                      // background reconciliation sweeps
)

func (p Priority) threshold() float64 {
	switch p {
	case PriorityCritical:
		return 0.95
	case PriorityHigh:
		return 0.80
	case PriorityNormal:
		return 0.60
	default:
		return 0.40
	}
}

// Venue weights per endpoint. Unlisted endpoints cost 1.
var endpointWeights = map[string]int{
	"/fapi/v2/account":      5,
	"/fapi/v2/positionRisk": 5,
	"/fapi/v1/leverage":     1,
	"/fapi/v1/order":        1,
	"/fapi/v1/openOrders":   1,
	"/fapi/v1/ticker/price": 1,
	"/fapi/v1/exchangeInfo": 1,
}

func endpointWeight(endpoint string) int {
	if w, ok := endpointWeights[endpoint]; ok {
		return w
	}
	return 1
}

// Limiter tracks the venue's weight budget per minute and trips a guard
// after rate-limit bans. One Limiter per credential set, since the venue
// accounts weight per key.
type Limiter struct {
	mu sync.Mutex

	weight        int
	weightResetAt time.Time
	maxWeight     int

	tripped     bool
	banUntil    time.Time
	consecutive int

	log *logging.Logger
}

// NewLimiter creates a Limiter sized for the venue's futures budget.
func NewLimiter() *Limiter {
	return &Limiter{
		maxWeight:     2400,
		weightResetAt: time.Now().Add(time.Minute),
		log:           logging.WithComponent("rate-limiter"),
	}
}

// Acquire blocks until the endpoint fits the priority's share of the
// budget or the timeout passes. It records the weight on success.
func (l *Limiter) Acquire(endpoint string, prio Priority, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		ok, wait := l.tryAcquire(endpoint, prio)
		if ok {
			return true
		}
		if time.Now().Add(wait).After(deadline) {
			return false
		}
		if wait > 5*time.Second {
			wait = 5 * time.Second
		}
		time.Sleep(wait)
	}
}

func (l *Limiter) tryAcquire(endpoint string, prio Priority) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.weightResetAt) {
		l.weight = 0
		l.weightResetAt = now.Add(time.Minute)
	}

	if l.tripped {
		if now.Before(l.banUntil) {
			return false, time.Until(l.banUntil)
		}
		l.tripped = false
		l.log.Info("rate limit guard reset, ban window passed")
	}

	w := endpointWeight(endpoint)
	budget := int(float64(l.maxWeight) * prio.threshold())
	if l.weight+w > budget {
		wait := time.Until(l.weightResetAt)
		if wait < 0 {
			wait = 100 * time.Millisecond
		}
		return false, wait
	}

	l.weight += w
	l.consecutive = 0
	return true, 0
}

// ObserveUsedWeight adopts the venue's own used-weight header when it
// runs ahead of our local count.
func (l *Limiter) ObserveUsedWeight(used int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if used > l.weight {
		l.weight = used
	}
}

// RecordBan trips the guard. A zero banUntilMs falls back to exponential
// cooldown based on consecutive bans, capped at 30 minutes.
func (l *Limiter) RecordBan(banUntilMs int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consecutive++
	if banUntilMs > 0 {
		l.banUntil = time.UnixMilli(banUntilMs)
	} else {
		cooldown := time.Duration(1<<uint(l.consecutive)) * time.Minute
		if cooldown > 30*time.Minute {
			cooldown = 30 * time.Minute
		}
		l.banUntil = time.Now().Add(cooldown)
	}
	l.tripped = true
	l.log.Warn("rate limit guard tripped",
		"ban_until", l.banUntil.Format(time.RFC3339),
		"consecutive", l.consecutive)
}

// Tripped reports whether the guard is currently refusing requests.
func (l *Limiter) Tripped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tripped && time.Now().Before(l.banUntil)
}

// Usage returns the current weight count and its ceiling.
func (l *Limiter) Usage() (weight, max int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.weight, l.maxWeight
}
