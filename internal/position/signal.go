package position

import (
	"strings"
	"time"
)

// SignalType names the four operations the lifecycle manager executes.
type SignalType string

const (
	SignalEntry   SignalType = "ENTRY"
	SignalReEntry SignalType = "RE_ENTRY"
	SignalHedge   SignalType = "HEDGE"
	SignalExit    SignalType = "EXIT"
)

// PriceLevels carries externally supplied comprehensive levels, typically
// from the analysis collaborator. Zero values mean "not provided".
type PriceLevels struct {
	Entry      float64 `json:"entry,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
}

// Signal is a strategy-layer instruction. The lifecycle manager never
// generates these; it only executes them.
type Signal struct {
	Type       SignalType   `json:"type"`
	Pair       string       `json:"pair"`
	Side       Side         `json:"side"`
	Price      float64      `json:"price"` // market price when the signal was produced
	Reason     string       `json:"reason"`
	Confidence float64      `json:"confidence,omitempty"`
	Levels     *PriceLevels `json:"levels,omitempty"`
	Time       time.Time    `json:"time"`
}

// RoleFromReason classifies an entry signal into a primary role by
// scanning its reason text. Re-entries are always OPPORTUNITY regardless
// of the reason; plain entries with no marker default to ANCHOR, the
// baseline position of a cycle.
func RoleFromReason(sigType SignalType, reason string) Role {
	if sigType == SignalReEntry {
		return RoleOpportunity
	}
	upper := strings.ToUpper(reason)
	switch {
	case strings.Contains(upper, "SCALP"):
		return RoleScalp
	case strings.Contains(upper, "OPPORTUNITY"):
		return RoleOpportunity
	case strings.Contains(upper, "HIGH_FREQ"), strings.Contains(upper, "HIGH FREQ"):
		return RoleHighFreq
	case strings.Contains(upper, "ANCHOR"):
		return RoleAnchor
	default:
		return RoleAnchor
	}
}
