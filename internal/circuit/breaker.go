// Package circuit provides a circuit breaker around venue gateway calls.
// Repeated consecutive failures open the breaker; after a cooldown a
// half-open probe decides whether it closes again. Lifecycle and monitor
// paths consult Allow before placing or closing orders.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/logging"
)

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker guards gateway calls against repeated failures.
type Breaker struct {
	mu  sync.RWMutex
	cfg config.CircuitConfig
	log *logging.Logger

	state               State
	consecutiveFailures int
	totalFailures       int
	totalTrips          int
	lastFailure         string
	lastFailureTime     time.Time
	lastTripTime        time.Time
	tripReason          string

	onTrip  func(reason string)
	onReset func()
}

// New creates a closed breaker from configuration.
func New(cfg config.CircuitConfig) *Breaker {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 3
	}
	return &Breaker{
		cfg:   cfg,
		log:   logging.Default().WithComponent("circuit"),
		state: StateClosed,
	}
}

// SetCallbacks registers trip and reset hooks. Both run on their own
// goroutine so notification work never holds the breaker lock.
func (b *Breaker) SetCallbacks(onTrip func(reason string), onReset func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = onTrip
	b.onReset = onReset
}

// Allow reports whether a gateway call may proceed. When refused, the
// second return value carries the operator-readable reason.
func (b *Breaker) Allow() (bool, string) {
	if !b.cfg.Enabled {
		return true, ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		elapsed := time.Since(b.lastTripTime)
		cooldown := time.Duration(b.cfg.CooldownSecs) * time.Second

		if elapsed < cooldown {
			remaining := cooldown - elapsed
			return false, fmt.Sprintf("circuit open, cooldown remaining: %v (reason: %s)",
				remaining.Round(time.Second), b.tripReason)
		}

		// Cooldown passed, admit one probe round.
		b.state = StateHalfOpen
		b.log.Info("circuit half-open, probing gateway", "trip_reason", b.tripReason)
	}

	return true, ""
}

// RecordSuccess resets the failure streak. A success while half-open
// closes the breaker.
func (b *Breaker) RecordSuccess() {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	b.consecutiveFailures = 0
	recovered := b.state == StateHalfOpen
	if recovered {
		b.state = StateClosed
		b.tripReason = ""
		b.log.Info("circuit closed after successful probe")
	}
	onReset := b.onReset
	b.mu.Unlock()

	if recovered && onReset != nil {
		go onReset()
	}
}

// RecordFailure counts a gateway failure. Reaching the configured streak
// opens the breaker; any failure while half-open re-opens it immediately.
func (b *Breaker) RecordFailure(err error) {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	b.consecutiveFailures++
	b.totalFailures++
	if err != nil {
		b.lastFailure = err.Error()
	}
	b.lastFailureTime = time.Now()

	var reason string
	switch {
	case b.state == StateHalfOpen:
		reason = fmt.Sprintf("probe failed: %s", b.lastFailure)
	case b.consecutiveFailures >= b.cfg.MaxFailures:
		reason = fmt.Sprintf("consecutive gateway failures: %d", b.consecutiveFailures)
	}

	var onTrip func(string)
	if reason != "" {
		b.state = StateOpen
		b.lastTripTime = time.Now()
		b.tripReason = reason
		b.totalTrips++
		onTrip = b.onTrip
		b.log.Error("circuit tripped", "reason", reason, "last_error", b.lastFailure)
	}
	b.mu.Unlock()

	if onTrip != nil {
		go onTrip(reason)
	}
}

// ForceReset closes the breaker and clears the failure streak.
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	wasOpen := b.state != StateClosed
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.tripReason = ""
	onReset := b.onReset
	b.mu.Unlock()

	if wasOpen && onReset != nil {
		go onReset()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Enabled reports whether the breaker is active.
func (b *Breaker) Enabled() bool {
	return b.cfg.Enabled
}

// Stats returns current breaker statistics for the operations API.
func (b *Breaker) Stats() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return map[string]interface{}{
		"state":                string(b.state),
		"consecutive_failures": b.consecutiveFailures,
		"total_failures":       b.totalFailures,
		"total_trips":          b.totalTrips,
		"trip_reason":          b.tripReason,
		"last_failure":         b.lastFailure,
		"last_trip_time":       b.lastTripTime,
	}
}
