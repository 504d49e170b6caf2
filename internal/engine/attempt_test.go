package engine

import (
	"testing"
	"time"

	"futures-hedge-bot/config"
)

func standardPolicy() RetryPolicy {
	return NewRetryPolicy(config.HedgeConfig{
		MaxRetryAttempts:    5,
		RetryBaseMs:         1000,
		RetryMaxMs:          30000,
		ContinuousRetrySecs: 30,
	})
}

func TestRetryPolicyBackoffDoubles(t *testing.T) {
	p := standardPolicy()

	wantDelays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}

	state := p.Initial()
	for i, want := range wantDelays {
		if state.Phase != PhaseBackoff {
			t.Fatalf("attempt %d: phase = %s, want %s", i+1, state.Phase, PhaseBackoff)
		}
		if got := p.Delay(state); got != want {
			t.Fatalf("attempt %d: delay = %v, want %v", i+1, got, want)
		}
		state = p.Next(state)
	}

	if state.Phase != PhaseContinuous {
		t.Fatalf("phase after %d attempts = %s, want %s", p.MaxAttempts, state.Phase, PhaseContinuous)
	}
	if state.Attempt != 6 {
		t.Fatalf("attempt counter = %d, want 6", state.Attempt)
	}
}

func TestRetryPolicyDelaysNeverDecrease(t *testing.T) {
	p := standardPolicy()

	state := p.Initial()
	prev := time.Duration(0)
	for i := 0; i < 12; i++ {
		d := p.Delay(state)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v after %v", state.Attempt, d, prev)
		}
		if state.Phase == PhaseContinuous && d != p.ContinuousEvery {
			t.Fatalf("continuous delay = %v, want %v", d, p.ContinuousEvery)
		}
		prev = d
		state = p.Next(state)
	}
}

func TestRetryPolicyCapsBackoffDelay(t *testing.T) {
	p := NewRetryPolicy(config.HedgeConfig{
		MaxRetryAttempts:    10,
		RetryBaseMs:         1000,
		RetryMaxMs:          30000,
		ContinuousRetrySecs: 30,
	})

	// Attempt 7 would be 64s unclamped.
	if got := p.Delay(RetryState{Phase: PhaseBackoff, Attempt: 7}); got != 30*time.Second {
		t.Fatalf("delay = %v, want clamp at 30s", got)
	}
	// Far past any sane shift width.
	if got := p.Delay(RetryState{Phase: PhaseBackoff, Attempt: 40}); got != 30*time.Second {
		t.Fatalf("delay = %v, want clamp at 30s", got)
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	p := NewRetryPolicy(config.HedgeConfig{})

	if p.MaxAttempts != 5 || p.BaseDelay != time.Second {
		t.Fatalf("defaults = %+v", p)
	}
	if p.MaxDelay != 30*time.Second || p.ContinuousEvery != 30*time.Second {
		t.Fatalf("defaults = %+v", p)
	}
}

func TestTrackerFailCreatesThenAdvances(t *testing.T) {
	tr := NewAttemptTracker(standardPolicy())

	first := tr.Fail("BTCUSDT", "pos-1", 50000, "insufficient margin")
	if first.State.Phase != PhaseBackoff || first.State.Attempt != 1 {
		t.Fatalf("first state = %+v", first.State)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Fatalf("attempt not initialized: %+v", first)
	}
	if first.NextRetryAt.Before(first.UpdatedAt) {
		t.Fatal("retry scheduled in the past")
	}

	second := tr.Fail("BTCUSDT", "pos-1", 50000, "still failing")
	if second.ID != first.ID {
		t.Fatal("advancing replaced the attempt instead of updating it")
	}
	if second.State.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", second.State.Attempt)
	}
	if second.LastError != "still failing" {
		t.Fatalf("last error = %q", second.LastError)
	}
	if tr.Len() != 1 {
		t.Fatalf("tracker len = %d, want 1", tr.Len())
	}
}

func TestTrackerTransitionsToContinuous(t *testing.T) {
	tr := NewAttemptTracker(standardPolicy())

	var last HedgeAttempt
	for i := 0; i < 6; i++ {
		last = tr.Fail("ETHUSDT", "pos-2", 2500, "down")
	}

	if last.State.Phase != PhaseContinuous {
		t.Fatalf("phase after 6 failures = %s, want %s", last.State.Phase, PhaseContinuous)
	}
	if last.State.Attempt != 6 {
		t.Fatalf("attempt = %d, want 6", last.State.Attempt)
	}
}

func TestTrackerResolveRemoves(t *testing.T) {
	tr := NewAttemptTracker(standardPolicy())
	tr.Fail("BTCUSDT", "pos-1", 50000, "down")

	tr.Resolve("pos-1")

	if _, ok := tr.Get("pos-1"); ok {
		t.Fatal("resolved attempt still tracked")
	}
	if tr.Len() != 0 {
		t.Fatalf("len = %d, want 0", tr.Len())
	}
}

func TestTrackerDueFiltersByTime(t *testing.T) {
	tr := NewAttemptTracker(standardPolicy())
	tr.Fail("BTCUSDT", "pos-1", 50000, "down")
	tr.Fail("ETHUSDT", "pos-2", 2500, "down")

	if due := tr.Due(time.Now()); len(due) != 0 {
		t.Fatalf("attempts due immediately = %d, want 0 (first delay is 1s)", len(due))
	}

	due := tr.Due(time.Now().Add(2 * time.Second))
	if len(due) != 2 {
		t.Fatalf("due = %d, want 2", len(due))
	}
	if due[0].NextRetryAt.After(due[1].NextRetryAt) {
		t.Fatal("due attempts not ordered oldest first")
	}
}

func TestTrackerSweepRemovesClosedPrimaries(t *testing.T) {
	tr := NewAttemptTracker(standardPolicy())
	tr.Fail("BTCUSDT", "pos-1", 50000, "down")
	tr.Fail("BTCUSDT", "pos-1", 50000, "down")
	tr.Fail("BTCUSDT", "pos-1", 50000, "down")
	tr.Fail("ETHUSDT", "pos-2", 2500, "down")

	before, _ := tr.Get("pos-1")
	if before.State.Attempt != 3 {
		t.Fatalf("setup: attempt = %d, want 3", before.State.Attempt)
	}

	removed := tr.Sweep(func(primaryID string) bool { return primaryID == "pos-2" })

	if len(removed) != 1 || removed[0].PrimaryID != "pos-1" {
		t.Fatalf("removed = %+v, want pos-1 only", removed)
	}
	// The swept attempt left at count 3, untouched by the removal.
	if removed[0].State.Attempt != 3 {
		t.Fatalf("sweep advanced the counter: %d", removed[0].State.Attempt)
	}
	if _, ok := tr.Get("pos-1"); ok {
		t.Fatal("swept attempt still tracked")
	}
	if _, ok := tr.Get("pos-2"); !ok {
		t.Fatal("live attempt removed by sweep")
	}
}

func TestTrackerAllOrderedByCreation(t *testing.T) {
	tr := NewAttemptTracker(standardPolicy())
	tr.Fail("BTCUSDT", "pos-1", 50000, "down")
	time.Sleep(2 * time.Millisecond)
	tr.Fail("ETHUSDT", "pos-2", 2500, "down")

	all := tr.All()
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	if all[0].PrimaryID != "pos-1" || all[1].PrimaryID != "pos-2" {
		t.Fatalf("order = %s, %s", all[0].PrimaryID, all[1].PrimaryID)
	}
}
