package allocator

import (
	"errors"
	"math"
	"sync"
	"testing"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/position"
)

func defaultSizing() config.SizingConfig {
	return config.SizingConfig{
		Anchor:      config.RoleSizing{SizePct: 0.20, Leverage: 10},
		Opportunity: config.RoleSizing{SizePct: 0.15, Leverage: 10},
		Scalp:       config.RoleSizing{SizePct: 0.10, Leverage: 15},
		HighFreq:    config.RoleSizing{SizePct: 0.05, Leverage: 20},
	}
}

func newTestAllocator(max int) *Allocator {
	return New(config.AllocatorConfig{MaxPrimaryPositions: max}, defaultSizing(), 0.30)
}

func TestCapCycle(t *testing.T) {
	a := newTestAllocator(2)

	if ok, reason := a.CanOpenPrimary("BTCUSDT", position.RoleAnchor); !ok {
		t.Fatalf("empty allocator refused: %s", reason)
	}
	if err := a.RegisterPrimary("BTCUSDT", position.RoleAnchor, "btc-1"); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if err := a.RegisterPrimary("ETHUSDT", position.RoleOpportunity, "eth-1"); err != nil {
		t.Fatalf("second registration failed: %v", err)
	}

	// Third pair is refused while 2/2 slots are held.
	if ok, reason := a.CanOpenPrimary("XRPUSDT", position.RoleAnchor); ok {
		t.Error("CanOpenPrimary true at capacity")
	} else if reason == "" {
		t.Error("refusal carries no reason")
	}

	// Releasing one slot frees the same call.
	a.UnregisterPrimary("eth-1")
	if ok, _ := a.CanOpenPrimary("XRPUSDT", position.RoleAnchor); !ok {
		t.Error("CanOpenPrimary false after a slot was released")
	}
}

func TestRegisterRefusesAtCapacity(t *testing.T) {
	a := newTestAllocator(2)
	if err := a.RegisterPrimary("BTCUSDT", position.RoleAnchor, "btc-1"); err != nil {
		t.Fatal(err)
	}
	if err := a.RegisterPrimary("ETHUSDT", position.RoleAnchor, "eth-1"); err != nil {
		t.Fatal(err)
	}

	err := a.RegisterPrimary("XRPUSDT", position.RoleAnchor, "xrp-1")
	if !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}
	if st := a.Status(); st.Count != 2 {
		t.Errorf("count changed by refused registration: %d", st.Count)
	}
}

func TestRegisterDuplicateID(t *testing.T) {
	a := newTestAllocator(2)
	if err := a.RegisterPrimary("BTCUSDT", position.RoleAnchor, "btc-1"); err != nil {
		t.Fatal(err)
	}
	if err := a.RegisterPrimary("BTCUSDT", position.RoleAnchor, "btc-1"); !errors.Is(err, ErrDuplicateRegistration) {
		t.Fatalf("expected ErrDuplicateRegistration, got %v", err)
	}
	if st := a.Status(); st.Count != 1 {
		t.Errorf("count = %d, want 1", st.Count)
	}
}

func TestUnregisterUnknownIsNoOp(t *testing.T) {
	a := newTestAllocator(2)
	a.UnregisterPrimary("never-registered")
	if st := a.Status(); st.Count != 0 {
		t.Errorf("count = %d, want 0", st.Count)
	}
}

// The cap must hold when every pair engine races for the last slot.
func TestConcurrentRegistrationsHoldCap(t *testing.T) {
	a := newTestAllocator(2)

	const racers = 16
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n] = a.RegisterPrimary("BTCUSDT", position.RoleAnchor, string(rune('a'+n)))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrAtCapacity) {
			t.Errorf("unexpected refusal: %v", err)
		}
	}
	if succeeded != 2 {
		t.Errorf("%d registrations succeeded, want exactly 2", succeeded)
	}
	if st := a.Status(); st.Count != 2 {
		t.Errorf("count = %d, want 2", st.Count)
	}
}

func TestOptimalSizingThreePairs(t *testing.T) {
	a := newTestAllocator(2)
	plan := a.CalculateOptimalSizing([]string{"BTCUSDT", "ETHUSDT", "XRPUSDT"})

	// Worst case per pair is anchor 20% + hedge 30%; three pairs must
	// stay within 80% aggregate.
	wantFactor := (0.80 / 3.0) / 0.50
	if math.Abs(plan.ScalingFactor-wantFactor) > 1e-9 {
		t.Errorf("ScalingFactor = %v, want %v", plan.ScalingFactor, wantFactor)
	}
	worst := 3 * 0.50 * plan.ScalingFactor
	if worst > 0.80+1e-9 {
		t.Errorf("scaled worst-case exposure %v exceeds 0.80", worst)
	}
	if math.Abs(plan.TotalExposure-0.80) > 1e-9 {
		t.Errorf("TotalExposure = %v, want 0.80", plan.TotalExposure)
	}
	if got := plan.PositionSizing[position.RoleAnchor]; math.Abs(got-0.20*wantFactor) > 1e-9 {
		t.Errorf("scaled anchor size = %v", got)
	}
	// Leverage passes through unscaled.
	if got := plan.Leverage[position.RoleScalp]; got != 15 {
		t.Errorf("scalp leverage = %v, want 15", got)
	}
}

func TestOptimalSizingTwoPairsUnscaled(t *testing.T) {
	a := newTestAllocator(2)
	plan := a.CalculateOptimalSizing([]string{"BTCUSDT", "ETHUSDT"})
	if plan.ScalingFactor != 1 {
		t.Errorf("ScalingFactor = %v, want 1", plan.ScalingFactor)
	}
	if got := plan.PositionSizing[position.RoleAnchor]; got != 0.20 {
		t.Errorf("anchor size = %v, want 0.20", got)
	}
	if math.Abs(plan.TotalExposure-1.0) > 1e-9 {
		t.Errorf("TotalExposure = %v, want 1.0", plan.TotalExposure)
	}
}

func TestOptimalSizingOperatorOverrides(t *testing.T) {
	cfg := config.AllocatorConfig{
		MaxPrimaryPositions: 2,
		PairSizeFactors:     map[string]float64{"BTCUSDT": 0.5, "ETHUSDT": 0.7, "XRPUSDT": 0.6},
	}
	a := New(cfg, defaultSizing(), 0.30)
	plan := a.CalculateOptimalSizing([]string{"BTCUSDT", "ETHUSDT", "XRPUSDT"})
	if plan.ScalingFactor != 1 {
		t.Errorf("ScalingFactor = %v with operator overrides, want 1", plan.ScalingFactor)
	}
}

func TestValidateConfiguration(t *testing.T) {
	a := newTestAllocator(2)

	two := a.ValidateConfiguration([]string{"BTCUSDT", "ETHUSDT"})
	if !two.IsSafe {
		t.Errorf("two pairs at 100%% flagged unsafe: %+v", two)
	}
	if two.MaxSafe != 1.0 {
		t.Errorf("two-pair ceiling = %v, want 1.0", two.MaxSafe)
	}

	three := a.ValidateConfiguration([]string{"BTCUSDT", "ETHUSDT", "XRPUSDT"})
	if three.IsSafe {
		t.Errorf("three pairs at 150%% flagged safe: %+v", three)
	}
	if three.MaxSafe != 0.80 {
		t.Errorf("three-pair ceiling = %v, want 0.80", three.MaxSafe)
	}
	if math.Abs(three.TotalExposure-1.5) > 1e-9 {
		t.Errorf("TotalExposure = %v, want 1.5", three.TotalExposure)
	}
	if three.Recommendation == "" {
		t.Error("unsafe validation carries no recommendation")
	}
}

func TestStatusOrdering(t *testing.T) {
	a := newTestAllocator(3)
	for _, id := range []string{"first", "second", "third"} {
		if err := a.RegisterPrimary("BTCUSDT", position.RoleAnchor, id); err != nil {
			t.Fatal(err)
		}
	}
	st := a.Status()
	if st.Count != 3 || st.Max != 3 {
		t.Fatalf("status = %d/%d, want 3/3", st.Count, st.Max)
	}
	seen := make(map[string]bool, len(st.Registrations))
	for _, reg := range st.Registrations {
		seen[reg.PositionID] = true
	}
	for _, id := range []string{"first", "second", "third"} {
		if !seen[id] {
			t.Errorf("registration %q missing from status", id)
		}
	}
	for i := 1; i < len(st.Registrations); i++ {
		if st.Registrations[i].RegisteredAt.Before(st.Registrations[i-1].RegisteredAt) {
			t.Error("registrations not sorted by registration time")
		}
	}
}
