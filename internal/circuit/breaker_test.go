package circuit

import (
	"errors"
	"strings"
	"testing"
	"time"

	"futures-hedge-bot/config"
)

func newTestBreaker(maxFailures, cooldownSecs int) *Breaker {
	return New(config.CircuitConfig{
		Enabled:      true,
		MaxFailures:  maxFailures,
		CooldownSecs: cooldownSecs,
	})
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := newTestBreaker(3, 60)
	errGateway := errors.New("dial tcp: connection refused")

	for i := 0; i < 2; i++ {
		b.RecordFailure(errGateway)
		if ok, _ := b.Allow(); !ok {
			t.Fatalf("breaker refused after %d failures, threshold is 3", i+1)
		}
	}

	b.RecordFailure(errGateway)

	if b.State() != StateOpen {
		t.Fatalf("state = %s, want %s", b.State(), StateOpen)
	}
	ok, reason := b.Allow()
	if ok {
		t.Fatal("open breaker admitted a call during cooldown")
	}
	if !strings.Contains(reason, "cooldown") {
		t.Fatalf("refusal reason %q does not mention cooldown", reason)
	}
	if got := b.Stats()["trip_reason"].(string); !strings.Contains(got, "consecutive gateway failures: 3") {
		t.Fatalf("trip_reason = %q", got)
	}
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b := newTestBreaker(3, 60)
	errGateway := errors.New("503")

	b.RecordFailure(errGateway)
	b.RecordFailure(errGateway)
	b.RecordSuccess()
	b.RecordFailure(errGateway)
	b.RecordFailure(errGateway)

	if b.State() != StateClosed {
		t.Fatalf("state = %s after interleaved success, want %s", b.State(), StateClosed)
	}
	if ok, _ := b.Allow(); !ok {
		t.Fatal("closed breaker refused a call")
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := newTestBreaker(2, 0)
	resets := make(chan struct{}, 1)
	b.SetCallbacks(nil, func() { resets <- struct{}{} })

	b.RecordFailure(errors.New("timeout"))
	b.RecordFailure(errors.New("timeout"))
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want %s", b.State(), StateOpen)
	}

	// Zero cooldown lets the next Allow transition to half-open.
	if ok, _ := b.Allow(); !ok {
		t.Fatal("half-open breaker refused the probe")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want %s", b.State(), StateHalfOpen)
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("state = %s after probe success, want %s", b.State(), StateClosed)
	}
	select {
	case <-resets:
	case <-time.After(2 * time.Second):
		t.Fatal("reset callback never fired")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newTestBreaker(2, 0)
	trips := make(chan string, 2)
	b.SetCallbacks(func(reason string) { trips <- reason }, nil)

	b.RecordFailure(errors.New("timeout"))
	b.RecordFailure(errors.New("timeout"))
	<-trips

	if ok, _ := b.Allow(); !ok {
		t.Fatal("probe refused")
	}
	b.RecordFailure(errors.New("still down"))

	if b.State() != StateOpen {
		t.Fatalf("state = %s after failed probe, want %s", b.State(), StateOpen)
	}
	select {
	case reason := <-trips:
		if !strings.Contains(reason, "probe failed") {
			t.Fatalf("re-trip reason = %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("trip callback never fired for failed probe")
	}
}

func TestBreakerDisabledNeverTrips(t *testing.T) {
	b := New(config.CircuitConfig{Enabled: false, MaxFailures: 1})

	for i := 0; i < 10; i++ {
		b.RecordFailure(errors.New("down"))
	}
	if ok, _ := b.Allow(); !ok {
		t.Fatal("disabled breaker refused a call")
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %s, want %s", b.State(), StateClosed)
	}
}

func TestBreakerForceReset(t *testing.T) {
	b := newTestBreaker(1, 3600)
	b.RecordFailure(errors.New("down"))
	if ok, _ := b.Allow(); ok {
		t.Fatal("breaker should be open")
	}

	b.ForceReset()

	if b.State() != StateClosed {
		t.Fatalf("state = %s after force reset, want %s", b.State(), StateClosed)
	}
	if ok, _ := b.Allow(); !ok {
		t.Fatal("reset breaker refused a call")
	}
}
