// Package metrics exposes Prometheus collectors for the trading loop:
//
//	bot_open_positions{pair,role}      - open position gauge
//	bot_trades_total{pair,result}      - closed trades by outcome (win|loss|flat)
//	bot_hedge_opened_total{pair}       - hedges successfully opened
//	bot_hedge_rejections_total{pair}   - guarantee calculator denials
//	bot_hedge_retries_total{pair}      - scheduled hedge retries
//	bot_hedge_exit_flags_total{pair}   - monitor early-exit recommendations
//	bot_allocator_denials_total{pair}  - entries refused for lack of slots
//	bot_allocator_slots_in_use         - primary slots currently registered
//	bot_gateway_errors_total{source}   - component errors from the bus
//	bot_snapshot_writes_total{credential} - snapshot store writes
//	bot_account_balance{credential}    - last reported account balance
//	bot_circuit_open                   - 1 while the circuit breaker is open
//
// Collectors are registered in init() and served at /metrics by the
// operations server. BindBus wires them to the event bus so publishers
// never import this package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"futures-hedge-bot/internal/allocator"
	"futures-hedge-bot/internal/events"
)

var (
	openPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Currently open positions by pair and role",
		},
		[]string{"pair", "role"},
	)

	tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Closed trades by outcome (win|loss|flat)",
		},
		[]string{"pair", "result"},
	)

	hedgeOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_hedge_opened_total",
			Help: "Hedges successfully opened",
		},
		[]string{"pair"},
	)

	hedgeRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_hedge_rejections_total",
			Help: "Hedge requests refused by the guarantee calculator",
		},
		[]string{"pair"},
	)

	hedgeRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_hedge_retries_total",
			Help: "Hedge open retries scheduled after venue failures",
		},
		[]string{"pair"},
	)

	hedgeExitFlags = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_hedge_exit_flags_total",
			Help: "Early-exit recommendations raised by the hedge monitor",
		},
		[]string{"pair"},
	)

	allocatorDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_allocator_denials_total",
			Help: "Primary entries refused for lack of allocator slots",
		},
		[]string{"pair"},
	)

	gatewayErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_gateway_errors_total",
			Help: "Errors published on the bus by source component",
		},
		[]string{"source"},
	)

	snapshotWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_snapshot_writes_total",
			Help: "Snapshot store writes by credential",
		},
		[]string{"credential"},
	)

	accountBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_account_balance",
			Help: "Last reported total account balance by credential",
		},
		[]string{"credential"},
	)

	circuitOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_circuit_open",
			Help: "1 while the circuit breaker refuses venue calls",
		},
	)
)

func init() {
	prometheus.MustRegister(openPositions, tradesTotal)
	prometheus.MustRegister(hedgeOpened, hedgeRejections, hedgeRetries, hedgeExitFlags)
	prometheus.MustRegister(allocatorDenials, gatewayErrors, snapshotWrites)
	prometheus.MustRegister(accountBalance, circuitOpen)
}

// slotsGauge reads slot occupancy straight from the allocator at scrape
// time. Registrations carry no bus event, so a callback gauge is the
// accurate source.
func slotsGauge(a *allocator.Allocator) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "bot_allocator_slots_in_use",
			Help: "Primary position slots currently registered",
		},
		func() float64 { return float64(a.InUse()) },
	)
}

// BindAllocator registers the live slot gauge for one allocator.
func BindAllocator(a *allocator.Allocator) {
	if a == nil {
		return
	}
	prometheus.MustRegister(slotsGauge(a))
}

// BindBus subscribes the collectors to the event bus.
func BindBus(bus *events.Bus) {
	if bus == nil {
		return
	}

	bus.Subscribe(events.EventPositionOpened, func(e events.Event) {
		openPositions.WithLabelValues(str(e, "pair"), str(e, "role")).Inc()
	})
	bus.Subscribe(events.EventPositionClosed, func(e events.Event) {
		pair := str(e, "pair")
		openPositions.WithLabelValues(pair, str(e, "role")).Dec()
		tradesTotal.WithLabelValues(pair, resultOf(num(e, "pnl"))).Inc()
	})
	bus.Subscribe(events.EventHedgeOpened, func(e events.Event) {
		hedgeOpened.WithLabelValues(str(e, "pair")).Inc()
	})
	bus.Subscribe(events.EventHedgeRejected, func(e events.Event) {
		hedgeRejections.WithLabelValues(str(e, "pair")).Inc()
	})
	bus.Subscribe(events.EventRetryScheduled, func(e events.Event) {
		hedgeRetries.WithLabelValues(str(e, "pair")).Inc()
	})
	bus.Subscribe(events.EventHedgeExitFlag, func(e events.Event) {
		hedgeExitFlags.WithLabelValues(str(e, "pair")).Inc()
	})
	bus.Subscribe(events.EventAllocatorDenied, func(e events.Event) {
		allocatorDenials.WithLabelValues(str(e, "pair")).Inc()
	})
	bus.Subscribe(events.EventError, func(e events.Event) {
		source := str(e, "source")
		if source == "" {
			source = "unknown"
		}
		gatewayErrors.WithLabelValues(source).Inc()
	})
	bus.Subscribe(events.EventSnapshotWritten, func(e events.Event) {
		snapshotWrites.WithLabelValues(str(e, "credential")).Inc()
	})
	bus.Subscribe(events.EventBalanceUpdate, func(e events.Event) {
		accountBalance.WithLabelValues(str(e, "credential")).Set(num(e, "total"))
	})
	bus.Subscribe(events.EventCircuitTripped, func(e events.Event) {
		circuitOpen.Set(1)
	})
	bus.Subscribe(events.EventCircuitReset, func(e events.Event) {
		circuitOpen.Set(0)
	})
}

func resultOf(pnl float64) string {
	switch {
	case pnl > 0:
		return "win"
	case pnl < 0:
		return "loss"
	default:
		return "flat"
	}
}

func str(e events.Event, key string) string {
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}

func num(e events.Event, key string) float64 {
	switch v := e.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
