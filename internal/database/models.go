package database

import (
	"time"

	"futures-hedge-bot/internal/position"
)

// Trade is one settled position row.
type Trade struct {
	ID          int64     `json:"id"`
	PositionID  string    `json:"position_id"`
	Pair        string    `json:"pair"`
	Side        string    `json:"side"`
	Role        string    `json:"role"`
	Credential  string    `json:"credential"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Size        float64   `json:"size"`
	Leverage    float64   `json:"leverage"`
	Quantity    float64   `json:"quantity"`
	RealizedPnL float64   `json:"realized_pnl"`
	CloseReason string    `json:"close_reason,omitempty"`
	OpenedAt    time.Time `json:"opened_at"`
	ClosedAt    time.Time `json:"closed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// TradeFromPosition maps a settled position onto its history row.
func TradeFromPosition(p *position.Position, reason string) Trade {
	closedAt := p.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	return Trade{
		PositionID:  p.ID,
		Pair:        p.Pair,
		Side:        string(p.Side),
		Role:        string(p.Role),
		Credential:  p.Credential,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   p.ExitPrice,
		Size:        p.Size,
		Leverage:    p.Leverage,
		Quantity:    p.Quantity,
		RealizedPnL: p.RealizedPnL,
		CloseReason: reason,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    closedAt,
	}
}

// Hedge event names stored in hedge_events.
const (
	HedgeEventOpened    = "hedge_opened"
	HedgeEventRejected  = "hedge_rejected"
	HedgeEventRetry     = "retry_scheduled"
	HedgeEventExhausted = "retry_exhausted"
	HedgeEventExitFlag  = "exit_flagged"
)

// HedgeEvent is one hedge-coordination outcome row.
type HedgeEvent struct {
	ID        int64     `json:"id"`
	Pair      string    `json:"pair"`
	PrimaryID string    `json:"primary_id"`
	HedgeID   string    `json:"hedge_id,omitempty"`
	Event     string    `json:"event"`
	Verdict   string    `json:"verdict,omitempty"`
	Method    string    `json:"method,omitempty"`
	Guarantee float64   `json:"guarantee,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
