// Package analysis consults an external comprehensive-analysis service
// for price levels around a prospective entry. The lifecycle uses the
// returned take-profit when a signal carries no levels of its own; a
// missing or failing provider degrades to the configured percentage
// distance.
package analysis

import (
	"context"
	"time"

	"futures-hedge-bot/internal/position"
)

// Request describes the entry the caller wants levels for.
type Request struct {
	Pair       string        `json:"pair"`
	Side       position.Side `json:"side"`
	EntryPrice float64       `json:"entry_price"`
}

// Advice is one provider answer: comprehensive levels plus the
// provider's confidence in them.
type Advice struct {
	Pair        string               `json:"pair"`
	Side        position.Side        `json:"side"`
	Levels      position.PriceLevels `json:"levels"`
	Confidence  float64              `json:"confidence"`
	Source      string               `json:"source,omitempty"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// Provider answers level requests. Implementations must be safe for
// concurrent use.
type Provider interface {
	Advise(ctx context.Context, req Request) (*Advice, error)
}
