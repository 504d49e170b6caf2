package position

import (
	"time"
)

// Side of a futures position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the other side. A hedge always trades opposite its primary.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Role places a position inside the hedged trading cycle. Primary roles
// carry the directional trade; each has a hedge counterpart that may only
// exist while the primary is open.
type Role string

const (
	RoleAnchor           Role = "ANCHOR"
	RoleAnchorHedge      Role = "ANCHOR_HEDGE"
	RoleOpportunity      Role = "OPPORTUNITY"
	RoleOpportunityHedge Role = "OPPORTUNITY_HEDGE"
	RoleScalp            Role = "SCALP"
	RoleScalpHedge       Role = "SCALP_HEDGE"
	RoleHighFreq         Role = "HIGH_FREQUENCY"
	RoleHighFreqHedge    Role = "HIGH_FREQUENCY_HEDGE"
)

var hedgeOf = map[Role]Role{
	RoleAnchor:      RoleAnchorHedge,
	RoleOpportunity: RoleOpportunityHedge,
	RoleScalp:       RoleScalpHedge,
	RoleHighFreq:    RoleHighFreqHedge,
}

var primaryOf = map[Role]Role{
	RoleAnchorHedge:      RoleAnchor,
	RoleOpportunityHedge: RoleOpportunity,
	RoleScalpHedge:       RoleScalp,
	RoleHighFreqHedge:    RoleHighFreq,
}

// HedgePriority is the fixed search order when a hedge signal looks for an
// unhedged primary.
var HedgePriority = []Role{RoleAnchor, RoleOpportunity, RoleScalp}

// IsPrimary reports whether r is a primary (non-hedge) role.
func (r Role) IsPrimary() bool {
	_, ok := hedgeOf[r]
	return ok
}

// IsHedge reports whether r is a hedge role.
func (r Role) IsHedge() bool {
	_, ok := primaryOf[r]
	return ok
}

// HedgeRole returns the hedge counterpart of a primary role.
func (r Role) HedgeRole() (Role, bool) {
	h, ok := hedgeOf[r]
	return h, ok
}

// PrimaryRole returns the primary counterpart of a hedge role.
func (r Role) PrimaryRole() (Role, bool) {
	p, ok := primaryOf[r]
	return p, ok
}

// Status of a position as last reconciled with the venue.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusClosed     Status = "CLOSED"
	StatusLiquidated Status = "LIQUIDATED"
)

// Position is one leg on the venue. Size is a fraction of account
// balance, not a quantity in the base asset; PnL figures derived from it
// are fractions of account balance as well.
type Position struct {
	ID            string    `json:"id"`
	Pair          string    `json:"pair"`
	Side          Side      `json:"side"`
	Role          Role      `json:"role"`
	Status        Status    `json:"status"`
	Size          float64   `json:"size"`
	Quantity      float64   `json:"quantity,omitempty"` // venue quantity in the base asset
	Leverage      float64   `json:"leverage"`
	EntryPrice    float64   `json:"entry_price"`
	SignalPrice   float64   `json:"signal_price,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Credential    string    `json:"credential,omitempty"` // account tag: "primary" or "hedge"
	OpenedAt      time.Time `json:"opened_at"`
	ClosedAt      time.Time `json:"closed_at,omitempty"`
	ExitPrice     float64   `json:"exit_price,omitempty"`
	RealizedPnL   float64   `json:"realized_pnl,omitempty"`
}

// IsOpen reports whether the position is still live on the venue.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// PriceMove returns the signed price move from entry at price, as a
// fraction of entry. Positive means favorable for the position's side.
func (p *Position) PriceMove(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	move := (price - p.EntryPrice) / p.EntryPrice
	if p.Side == SideShort {
		move = -move
	}
	return move
}

// AdverseMove returns the unfavorable price move fraction at price,
// floored at zero.
func (p *Position) AdverseMove(price float64) float64 {
	if m := p.PriceMove(price); m < 0 {
		return -m
	}
	return 0
}

// PnL returns the leveraged return on the position's margin at price,
// as a fraction (0.05 = +5%).
func (p *Position) PnL(price float64) float64 {
	return p.PriceMove(price) * p.Leverage
}

// BalanceImpact returns the PnL at price expressed as a fraction of
// account balance.
func (p *Position) BalanceImpact(price float64) float64 {
	return p.PriceMove(price) * p.Size * p.Leverage
}

// LiquidationPrice estimates the liquidation level for an isolated
// position: entry shifted against the side by 1/leverage. Maintenance
// margin is ignored, which errs toward an earlier estimate.
func (p *Position) LiquidationPrice() float64 {
	return LiquidationPrice(p.Side, p.EntryPrice, p.Leverage)
}

// LiquidationPrice estimates where a position with the given entry and
// leverage gets liquidated.
func LiquidationPrice(side Side, entry, leverage float64) float64 {
	if leverage <= 0 {
		return 0
	}
	if side == SideLong {
		return entry * (1 - 1/leverage)
	}
	return entry * (1 + 1/leverage)
}

// IsHedgeFor reports whether h is a live hedge for primary p: same pair,
// opposite side, matching hedge role, both open.
func (p *Position) IsHedgeFor(primary *Position) bool {
	if !p.IsOpen() || !primary.IsOpen() {
		return false
	}
	if p.Pair != primary.Pair || p.Side != primary.Side.Opposite() {
		return false
	}
	want, ok := primary.Role.HedgeRole()
	return ok && p.Role == want
}
