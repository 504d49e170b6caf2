// Package events provides an in-process publish/subscribe bus. Lifecycle,
// monitor and allocator code publish typed events; log, metrics and
// notification consumers subscribe without the publishers importing them.
package events

import (
	"sync"
	"time"
)

// EventType names a category of system event.
type EventType string

const (
	EventPositionOpened  EventType = "POSITION_OPENED"
	EventPositionClosed  EventType = "POSITION_CLOSED"
	EventHedgeOpened     EventType = "HEDGE_OPENED"
	EventHedgeRejected   EventType = "HEDGE_REJECTED"
	EventRetryScheduled  EventType = "HEDGE_RETRY_SCHEDULED"
	EventRetryContinuous EventType = "HEDGE_RETRY_CONTINUOUS"
	EventHedgeExitFlag   EventType = "HEDGE_EXIT_FLAG"
	EventAllocatorDenied EventType = "ALLOCATOR_DENIED"
	EventSnapshotWritten EventType = "SNAPSHOT_WRITTEN"
	EventCircuitTripped  EventType = "CIRCUIT_TRIPPED"
	EventCircuitReset    EventType = "CIRCUIT_RESET"
	EventBalanceUpdate   EventType = "BALANCE_UPDATE"
	EventEngineStarted   EventType = "ENGINE_STARTED"
	EventEngineStopped   EventType = "ENGINE_STOPPED"
	EventError           EventType = "ERROR"
)

// Event is a single bus message.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events.
type Subscriber func(Event)

// Bus manages event publishing and subscriptions.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type.
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for every event type.
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all matching subscribers. Delivery is
// asynchronous so a slow subscriber never blocks the trading path.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := b.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishPositionOpened publishes a primary or hedge open.
func (b *Bus) PublishPositionOpened(pair, role, side string, entryPrice, size, leverage float64) {
	b.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"pair":        pair,
			"role":        role,
			"side":        side,
			"entry_price": entryPrice,
			"size":        size,
			"leverage":    leverage,
		},
	})
}

// PublishPositionClosed publishes a close with its realized outcome.
func (b *Bus) PublishPositionClosed(pair, role, reason string, entryPrice, exitPrice, pnl float64) {
	b.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"pair":        pair,
			"role":        role,
			"reason":      reason,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"pnl":         pnl,
		},
	})
}

// PublishHedgeOpened publishes a successful hedge open with its guarantee.
func (b *Bus) PublishHedgeOpened(pair, primaryID, hedgeID, method string, guarantee float64) {
	b.Publish(Event{
		Type: EventHedgeOpened,
		Data: map[string]interface{}{
			"pair":       pair,
			"primary_id": primaryID,
			"hedge_id":   hedgeID,
			"method":     method,
			"guarantee":  guarantee,
		},
	})
}

// PublishHedgeRejected publishes a guarantee-calculator denial.
func (b *Bus) PublishHedgeRejected(pair, primaryID, reason string, guarantee float64) {
	b.Publish(Event{
		Type: EventHedgeRejected,
		Data: map[string]interface{}{
			"pair":       pair,
			"primary_id": primaryID,
			"reason":     reason,
			"guarantee":  guarantee,
		},
	})
}

// PublishRetryScheduled publishes the next retry for a pending hedge.
func (b *Bus) PublishRetryScheduled(pair, primaryID string, attempt int, delay time.Duration) {
	b.Publish(Event{
		Type: EventRetryScheduled,
		Data: map[string]interface{}{
			"pair":       pair,
			"primary_id": primaryID,
			"attempt":    attempt,
			"delay_ms":   delay.Milliseconds(),
		},
	})
}

// PublishRetryContinuous publishes the transition out of the backoff phase.
func (b *Bus) PublishRetryContinuous(pair, primaryID string, attempts int) {
	b.Publish(Event{
		Type: EventRetryContinuous,
		Data: map[string]interface{}{
			"pair":       pair,
			"primary_id": primaryID,
			"attempts":   attempts,
		},
	})
}

// PublishHedgeExitFlag publishes a monitor recommendation to close a
// hedged pair early.
func (b *Bus) PublishHedgeExitFlag(pair, primaryID, hedgeID string, netEstimate float64, reasons []string) {
	b.Publish(Event{
		Type: EventHedgeExitFlag,
		Data: map[string]interface{}{
			"pair":         pair,
			"primary_id":   primaryID,
			"hedge_id":     hedgeID,
			"net_estimate": netEstimate,
			"reasons":      reasons,
		},
	})
}

// PublishAllocatorDenied publishes a refused primary registration or check.
func (b *Bus) PublishAllocatorDenied(pair, role, reason string) {
	b.Publish(Event{
		Type: EventAllocatorDenied,
		Data: map[string]interface{}{
			"pair":   pair,
			"role":   role,
			"reason": reason,
		},
	})
}

// PublishSnapshotWritten publishes a completed snapshot store write.
func (b *Bus) PublishSnapshotWritten(credential string, positions int) {
	b.Publish(Event{
		Type: EventSnapshotWritten,
		Data: map[string]interface{}{
			"credential": credential,
			"positions":  positions,
		},
	})
}

// PublishCircuitTripped publishes a circuit breaker trip.
func (b *Bus) PublishCircuitTripped(reason string) {
	b.Publish(Event{
		Type: EventCircuitTripped,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishCircuitReset publishes a circuit breaker reset.
func (b *Bus) PublishCircuitReset() {
	b.Publish(Event{
		Type: EventCircuitReset,
		Data: map[string]interface{}{},
	})
}

// PublishBalanceUpdate publishes refreshed account balances.
func (b *Bus) PublishBalanceUpdate(credential string, total, available float64) {
	b.Publish(Event{
		Type: EventBalanceUpdate,
		Data: map[string]interface{}{
			"credential": credential,
			"total":      total,
			"available":  available,
		},
	})
}

// PublishError publishes a component error.
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
