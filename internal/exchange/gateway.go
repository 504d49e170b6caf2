package exchange

import (
	"context"

	"futures-hedge-bot/internal/position"
)

// Balance is the account margin state in the quote asset.
type Balance struct {
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
}

// OpenRequest describes one position to open. Size is a fraction of
// account balance; the gateway converts it to a venue quantity at the
// current price.
type OpenRequest struct {
	Pair          string
	Side          position.Side
	Size          float64
	Leverage      float64
	Role          position.Role
	ClientOrderID string
	SignalPrice   float64
}

// Gateway is the venue surface the engine trades through. One Gateway
// binds one credential set; the reconciler composes two of them.
//
// Implementations return typed errors: use IsTransient and friends to
// classify, never string matching at call sites.
type Gateway interface {
	// OpenPosition places a market order and returns the resulting
	// position with venue entry price and quantity filled in.
	OpenPosition(ctx context.Context, req OpenRequest) (*position.Position, error)

	// ClosePosition market-closes the full remaining quantity.
	ClosePosition(ctx context.Context, pos *position.Position) error

	// SetTakeProfitOrder places or replaces a reduce-only take-profit
	// at the given price.
	SetTakeProfitOrder(ctx context.Context, pos *position.Position, price float64) error

	// GetOpenPositions returns the venue's live positions for the pair
	// (all pairs when pair is empty).
	GetOpenPositions(ctx context.Context, pair string) ([]*position.Position, error)

	// GetPositions returns the venue's position rows for the pair
	// including flat ones, as reported by the venue.
	GetPositions(ctx context.Context, pair string) ([]*position.Position, error)

	// GetCurrentPrice returns the latest mark or last price.
	GetCurrentPrice(ctx context.Context, pair string) (float64, error)

	// GetAccountBalance returns total and available margin.
	GetAccountBalance(ctx context.Context) (Balance, error)

	// CredentialTag names the account behind this gateway, "primary"
	// or "hedge". It ends up on every position the gateway returns.
	CredentialTag() string
}
