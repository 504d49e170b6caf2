// Package allocator bounds how many primary positions may be open
// across all traded pairs and scales per-pair sizing as the pair list
// grows. One allocator instance is shared by reference between every
// per-pair engine; it is constructed in main and injected, never a
// package global.
package allocator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/logging"
	"futures-hedge-bot/internal/position"
)

// Exposure ceilings for the worst-case aggregate. Up to two pairs may
// commit the full balance; three or more pairs scale down to 80%.
const (
	fullExposureCeiling   = 1.00
	scaledExposureCeiling = 0.80
)

// ErrAtCapacity is returned when a registration would exceed the global
// primary cap.
var ErrAtCapacity = errors.New("allocator: primary position cap reached")

// ErrDuplicateRegistration is returned when a position ID is already
// registered. Registrations are strictly 1:1 with open primaries.
var ErrDuplicateRegistration = errors.New("allocator: position already registered")

// Registration is one open primary position holding a slot.
type Registration struct {
	PositionID   string        `json:"position_id"`
	Pair         string        `json:"pair"`
	Role         position.Role `json:"role"`
	RegisteredAt time.Time     `json:"registered_at"`
}

// Status is the allocator's current occupancy, exposed to the ops API.
type Status struct {
	Count         int            `json:"count"`
	Max           int            `json:"max"`
	Registrations []Registration `json:"registrations"`
}

// SizingPlan is the outcome of CalculateOptimalSizing.
type SizingPlan struct {
	ScalingFactor  float64                   `json:"scaling_factor"`
	PositionSizing map[position.Role]float64 `json:"position_sizing"`
	Leverage       map[position.Role]float64 `json:"leverage"`
	TotalExposure  float64                   `json:"total_exposure"`
	Recommendation string                    `json:"recommendation"`
}

// Validation is the outcome of ValidateConfiguration.
type Validation struct {
	IsSafe         bool    `json:"is_safe"`
	TotalExposure  float64 `json:"total_exposure"`
	MaxSafe        float64 `json:"max_safe"`
	Recommendation string  `json:"recommendation"`
}

// Allocator tracks open primary registrations under a hard cap. All
// methods are safe for concurrent use from multiple pair engines.
type Allocator struct {
	mu           sync.Mutex
	max          int
	regs         map[string]Registration // keyed by position ID
	sizing       config.SizingConfig
	hedgeSizePct float64
	pairFactors  map[string]float64
	log          *logging.Logger
}

// New constructs an Allocator from configuration. hedgeSizePct is the
// hedge position size fraction used in worst-case exposure math.
func New(cfg config.AllocatorConfig, sizing config.SizingConfig, hedgeSizePct float64) *Allocator {
	max := cfg.MaxPrimaryPositions
	if max < 1 {
		max = 2
	}
	return &Allocator{
		max:          max,
		regs:         make(map[string]Registration),
		sizing:       sizing,
		hedgeSizePct: hedgeSizePct,
		pairFactors:  cfg.PairSizeFactors,
		log:          logging.Default().WithComponent("allocator"),
	}
}

// CanOpenPrimary reports whether a slot is free. Advisory only: the
// answer can change before RegisterPrimary runs, so callers must still
// handle a refusal there.
func (a *Allocator) CanOpenPrimary(pair string, role position.Role) (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.regs) >= a.max {
		return false, fmt.Sprintf("primary cap reached (%d/%d)", len(a.regs), a.max)
	}
	return true, ""
}

// RegisterPrimary inserts a registration atomically with the cap check.
// At capacity it refuses with ErrAtCapacity and changes nothing; the
// caller owns undoing whatever it opened on the venue.
func (a *Allocator) RegisterPrimary(pair string, role position.Role, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.regs[id]; exists {
		a.log.Error("registration for an already-registered position", "pair", pair, "position_id", id)
		return fmt.Errorf("%w: %s", ErrDuplicateRegistration, id)
	}
	if len(a.regs) >= a.max {
		a.log.Error("registration refused at capacity",
			"pair", pair, "role", string(role), "count", len(a.regs), "max", a.max)
		return fmt.Errorf("%w: %d/%d", ErrAtCapacity, len(a.regs), a.max)
	}

	a.regs[id] = Registration{
		PositionID:   id,
		Pair:         pair,
		Role:         role,
		RegisteredAt: time.Now().UTC(),
	}
	a.log.Info("primary registered",
		"pair", pair, "role", string(role), "position_id", id,
		"count", len(a.regs), "max", a.max)
	return nil
}

// UnregisterPrimary releases the slot held by a position ID. Unknown
// IDs warn and do nothing.
func (a *Allocator) UnregisterPrimary(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.regs[id]; !exists {
		a.log.Warn("unregister for unknown position", "position_id", id)
		return
	}
	delete(a.regs, id)
	a.log.Info("primary unregistered", "position_id", id, "count", len(a.regs), "max", a.max)
}

// InUse returns the number of primaries currently holding a slot.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.regs)
}

// Status returns a copy of the current occupancy.
func (a *Allocator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	regs := make([]Registration, 0, len(a.regs))
	for _, reg := range a.regs {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].RegisteredAt.Before(regs[j].RegisteredAt) })
	return Status{Count: len(a.regs), Max: a.max, Registrations: regs}
}

// worstCasePerPair is the largest primary fraction plus its hedge, the
// exposure one pair can reach before scaling.
func (a *Allocator) worstCasePerPair() float64 {
	largest := a.sizing.Anchor.SizePct
	for _, pct := range []float64{a.sizing.Opportunity.SizePct, a.sizing.Scalp.SizePct, a.sizing.HighFreq.SizePct} {
		if pct > largest {
			largest = pct
		}
	}
	return largest + a.hedgeSizePct
}

// CalculateOptimalSizing computes the scaling factor and scaled sizing
// for the given active pairs. Operator-supplied per-pair factors switch
// auto-scaling off.
func (a *Allocator) CalculateOptimalSizing(activePairs []string) SizingPlan {
	a.mu.Lock()
	defer a.mu.Unlock()

	numPairs := len(activePairs)
	base := a.worstCasePerPair()

	factor := 1.0
	recommendation := ""
	switch {
	case len(a.pairFactors) > 0:
		recommendation = "operator pair-size factors in effect, auto-scaling disabled"
	case numPairs <= 2:
		recommendation = "original sizing, worst-case exposure within the full ceiling"
	default:
		factor = (scaledExposureCeiling / float64(numPairs)) / base
		recommendation = fmt.Sprintf("sizes scaled by %.3f to cap %d-pair worst-case exposure at %.0f%%",
			factor, numPairs, scaledExposureCeiling*100)
	}

	plan := SizingPlan{
		ScalingFactor: factor,
		PositionSizing: map[position.Role]float64{
			position.RoleAnchor:      a.sizing.Anchor.SizePct * factor,
			position.RoleOpportunity: a.sizing.Opportunity.SizePct * factor,
			position.RoleScalp:       a.sizing.Scalp.SizePct * factor,
			position.RoleHighFreq:    a.sizing.HighFreq.SizePct * factor,
		},
		Leverage: map[position.Role]float64{
			position.RoleAnchor:      a.sizing.Anchor.Leverage,
			position.RoleOpportunity: a.sizing.Opportunity.Leverage,
			position.RoleScalp:       a.sizing.Scalp.Leverage,
			position.RoleHighFreq:    a.sizing.HighFreq.Leverage,
		},
		TotalExposure:  base * factor * float64(numPairs),
		Recommendation: recommendation,
	}
	return plan
}

// ValidateConfiguration recomputes worst-case aggregate exposure for
// the configured sizing and compares it to the applicable ceiling.
func (a *Allocator) ValidateConfiguration(activePairs []string) Validation {
	a.mu.Lock()
	defer a.mu.Unlock()

	numPairs := len(activePairs)
	ceiling := fullExposureCeiling
	if numPairs > 2 {
		ceiling = scaledExposureCeiling
	}
	total := a.worstCasePerPair() * float64(numPairs)

	v := Validation{
		TotalExposure: total,
		MaxSafe:       ceiling,
		IsSafe:        total <= ceiling,
	}
	if v.IsSafe {
		v.Recommendation = fmt.Sprintf("worst-case exposure %.0f%% within the %.0f%% ceiling", total*100, ceiling*100)
	} else {
		v.Recommendation = fmt.Sprintf("worst-case exposure %.0f%% exceeds the %.0f%% ceiling, apply CalculateOptimalSizing",
			total*100, ceiling*100)
	}
	return v
}
