package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/allocator"
	"futures-hedge-bot/internal/events"
	"futures-hedge-bot/internal/position"
)

// waitForValue polls a collector until it reaches want or the deadline
// passes. Bus delivery is asynchronous.
func waitForValue(t *testing.T, what string, want float64, read func() float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if read() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s = %v, want %v", what, read(), want)
}

func TestBindBusUpdatesCollectors(t *testing.T) {
	bus := events.NewBus()
	BindBus(bus)

	bus.PublishPositionOpened("BTCUSDT", "ANCHOR", "LONG", 50000, 0.20, 10)
	waitForValue(t, "open_positions", 1, func() float64 {
		return testutil.ToFloat64(openPositions.WithLabelValues("BTCUSDT", "ANCHOR"))
	})

	bus.PublishPositionClosed("BTCUSDT", "ANCHOR", "take profit", 50000, 51000, 0.04)
	waitForValue(t, "open_positions after close", 0, func() float64 {
		return testutil.ToFloat64(openPositions.WithLabelValues("BTCUSDT", "ANCHOR"))
	})
	waitForValue(t, "trades win", 1, func() float64 {
		return testutil.ToFloat64(tradesTotal.WithLabelValues("BTCUSDT", "win"))
	})

	bus.PublishHedgeRejected("BTCUSDT", "BOT-1", "leverage over cap", 0.8)
	waitForValue(t, "hedge rejections", 1, func() float64 {
		return testutil.ToFloat64(hedgeRejections.WithLabelValues("BTCUSDT"))
	})

	bus.PublishRetryScheduled("BTCUSDT", "BOT-1", 2, time.Second)
	waitForValue(t, "hedge retries", 1, func() float64 {
		return testutil.ToFloat64(hedgeRetries.WithLabelValues("BTCUSDT"))
	})

	bus.PublishAllocatorDenied("ETHUSDT", "ANCHOR", "all slots in use")
	waitForValue(t, "allocator denials", 1, func() float64 {
		return testutil.ToFloat64(allocatorDenials.WithLabelValues("ETHUSDT"))
	})

	bus.PublishBalanceUpdate("primary", 10250.5, 9000)
	waitForValue(t, "account balance", 10250.5, func() float64 {
		return testutil.ToFloat64(accountBalance.WithLabelValues("primary"))
	})
}

func TestSlotsGaugeTracksAllocator(t *testing.T) {
	a := allocator.New(config.AllocatorConfig{MaxPrimaryPositions: 2}, config.SizingConfig{
		Anchor: config.RoleSizing{SizePct: 0.20, Leverage: 10},
	}, 0.30)
	g := slotsGauge(a)

	if got := testutil.ToFloat64(g); got != 0 {
		t.Fatalf("empty allocator gauge = %v, want 0", got)
	}
	if err := a.RegisterPrimary("BTCUSDT", position.RoleAnchor, "btc-1"); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(g); got != 1 {
		t.Errorf("gauge after register = %v, want 1", got)
	}
	a.UnregisterPrimary("btc-1")
	if got := testutil.ToFloat64(g); got != 0 {
		t.Errorf("gauge after release = %v, want 0", got)
	}
}

func TestResultOf(t *testing.T) {
	cases := []struct {
		pnl  float64
		want string
	}{
		{0.04, "win"},
		{-0.1, "loss"},
		{0, "flat"},
	}
	for _, tc := range cases {
		if got := resultOf(tc.pnl); got != tc.want {
			t.Errorf("resultOf(%v) = %s, want %s", tc.pnl, got, tc.want)
		}
	}
}
