package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"futures-hedge-bot/config"
)

// RetryPhase tags which retry regime a hedge attempt is in.
type RetryPhase string

const (
	// PhaseBackoff doubles the delay per attempt up to the cap.
	PhaseBackoff RetryPhase = "BACKOFF"
	// PhaseContinuous retries at a fixed interval until the primary
	// closes or the hedge opens.
	PhaseContinuous RetryPhase = "CONTINUOUS"
)

// RetryState is the tagged retry position of an attempt. Attempt counts
// every failure so far, across both phases.
type RetryState struct {
	Phase   RetryPhase `json:"phase"`
	Attempt int        `json:"attempt"`
}

// RetryPolicy derives delays and phase transitions from configuration.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ContinuousEvery time.Duration
}

// NewRetryPolicy builds the policy from hedge configuration, filling
// zero values with the standard 1s..30s doubling over five attempts.
func NewRetryPolicy(cfg config.HedgeConfig) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts:     cfg.MaxRetryAttempts,
		BaseDelay:       time.Duration(cfg.RetryBaseMs) * time.Millisecond,
		MaxDelay:        time.Duration(cfg.RetryMaxMs) * time.Millisecond,
		ContinuousEvery: time.Duration(cfg.ContinuousRetrySecs) * time.Second,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = 30 * time.Second
	}
	if p.ContinuousEvery <= 0 {
		p.ContinuousEvery = 30 * time.Second
	}
	return p
}

// Initial is the state after the first failed open.
func (p RetryPolicy) Initial() RetryState {
	return RetryState{Phase: PhaseBackoff, Attempt: 1}
}

// Next advances the state after another failure. Crossing MaxAttempts
// switches to the continuous phase; the attempt counter keeps running
// there for observability.
func (p RetryPolicy) Next(s RetryState) RetryState {
	next := RetryState{Phase: s.Phase, Attempt: s.Attempt + 1}
	if s.Phase == PhaseBackoff && s.Attempt >= p.MaxAttempts {
		next.Phase = PhaseContinuous
	}
	return next
}

// Delay returns how long to wait after the failure that produced s.
func (p RetryPolicy) Delay(s RetryState) time.Duration {
	if s.Phase == PhaseContinuous {
		return p.ContinuousEvery
	}
	shift := s.Attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 10 {
		return p.MaxDelay
	}
	d := p.BaseDelay << uint(shift)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// HedgeAttempt records a hedge that failed to open and is awaiting
// retry. Attempts are created only by a venue failure on the way to an
// open; a calculator rejection advances an existing attempt but never
// creates one.
type HedgeAttempt struct {
	ID          string     `json:"id"`
	Pair        string     `json:"pair"`
	PrimaryID   string     `json:"primary_id"`
	SignalPrice float64    `json:"signal_price"`
	State       RetryState `json:"state"`
	NextRetryAt time.Time  `json:"next_retry_at"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AttemptTracker holds pending hedge attempts keyed by primary position
// id, at most one per primary.
type AttemptTracker struct {
	mu       sync.Mutex
	policy   RetryPolicy
	attempts map[string]*HedgeAttempt
}

// NewAttemptTracker creates an empty tracker.
func NewAttemptTracker(policy RetryPolicy) *AttemptTracker {
	return &AttemptTracker{
		policy:   policy,
		attempts: make(map[string]*HedgeAttempt),
	}
}

// Policy returns the retry policy the tracker schedules with.
func (t *AttemptTracker) Policy() RetryPolicy {
	return t.policy
}

// Fail records a failed hedge open for a primary. A new attempt starts
// in the backoff phase; an existing one advances, switching to the
// continuous phase past the attempt budget. Returns the updated attempt.
func (t *AttemptTracker) Fail(pair, primaryID string, signalPrice float64, cause string) HedgeAttempt {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.attempts[primaryID]
	if !ok {
		state := t.policy.Initial()
		a = &HedgeAttempt{
			ID:          uuid.NewString(),
			Pair:        pair,
			PrimaryID:   primaryID,
			SignalPrice: signalPrice,
			State:       state,
			CreatedAt:   now,
		}
		t.attempts[primaryID] = a
	} else {
		a.State = t.policy.Next(a.State)
	}

	a.LastError = cause
	a.UpdatedAt = now
	a.NextRetryAt = now.Add(t.policy.Delay(a.State))
	return *a
}

// Resolve removes the attempt for a primary after its hedge opened.
func (t *AttemptTracker) Resolve(primaryID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, primaryID)
}

// Get returns a copy of the attempt for a primary.
func (t *AttemptTracker) Get(primaryID string) (HedgeAttempt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.attempts[primaryID]
	if !ok {
		return HedgeAttempt{}, false
	}
	return *a, true
}

// Due returns attempts whose retry time has passed, oldest first.
func (t *AttemptTracker) Due(now time.Time) []HedgeAttempt {
	t.mu.Lock()
	defer t.mu.Unlock()

	var due []HedgeAttempt
	for _, a := range t.attempts {
		if !a.NextRetryAt.After(now) {
			due = append(due, *a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(due[j].NextRetryAt) })
	return due
}

// Sweep removes attempts whose primary is no longer live and returns
// them. Removal does not advance any counter.
func (t *AttemptTracker) Sweep(isLive func(primaryID string) bool) []HedgeAttempt {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []HedgeAttempt
	for id, a := range t.attempts {
		if !isLive(id) {
			removed = append(removed, *a)
			delete(t.attempts, id)
		}
	}
	return removed
}

// All returns copies of every pending attempt for the operations API.
func (t *AttemptTracker) All() []HedgeAttempt {
	t.mu.Lock()
	defer t.mu.Unlock()

	all := make([]HedgeAttempt, 0, len(t.attempts))
	for _, a := range t.attempts {
		all = append(all, *a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all
}

// Len returns the number of pending attempts.
func (t *AttemptTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.attempts)
}
