// Package engine coordinates the per-pair trading cycle: signal-driven
// position lifecycle, hedge-guarantee evaluation, the hedge monitor loop
// and reconciliation across the two venue credentials.
package engine

import (
	"math"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/position"
)

// Classification labels a guarantee evaluation outcome.
type Classification string

const (
	ClassificationOriginal Classification = "ORIGINAL"
	ClassificationAdjusted Classification = "ADJUSTED"
	ClassificationRejected Classification = "REJECTED"
)

// AdjustmentMethod names which hedge parameter was scaled to restore a
// positive guarantee. MethodBoth is reserved for operator tooling that
// combines the two; the evaluator itself scales one at a time.
type AdjustmentMethod string

const (
	MethodNone     AdjustmentMethod = "NONE"
	MethodSize     AdjustmentMethod = "SIZE"
	MethodLeverage AdjustmentMethod = "LEVERAGE"
	MethodBoth     AdjustmentMethod = "BOTH"
)

// GuaranteeRequest carries the inputs for one hedge evaluation. Size
// values are fractions of account balance, prices are quote-asset marks
// and TakeProfit is the hedge target derived from the primary's
// liquidation level.
type GuaranteeRequest struct {
	Primary      *position.Position
	SignalPrice  float64
	CurrentPrice float64
	BaseSize     float64
	BaseLeverage float64
	TakeProfit   float64
}

// GuaranteeResult is the evaluator's decision. ShouldOpen true always
// comes with a strictly positive ProfitGuarantee; a rejection zeroes the
// hedge parameters and explains itself in Reason.
type GuaranteeResult struct {
	ShouldOpen      bool             `json:"should_open"`
	Size            float64          `json:"size"`
	Leverage        float64          `json:"leverage"`
	TakeProfit      float64          `json:"take_profit"`
	ProfitGuarantee float64          `json:"profit_guarantee"`
	Classification  Classification   `json:"classification"`
	Method          AdjustmentMethod `json:"method"`
	PriceDeviation  float64          `json:"price_deviation"`
	Reason          string           `json:"reason,omitempty"`
}

// GuaranteeCalculator decides whether a hedge can be opened so that its
// profit at take-profit covers the primary's loss there. It is a pure
// computation: no clock, no venue calls, no logging.
type GuaranteeCalculator struct {
	maxDeviation float64
	maxLeverage  float64
	maxSizePct   float64
}

// NewGuaranteeCalculator builds a calculator from the hedge adjustment
// ceilings.
func NewGuaranteeCalculator(cfg config.HedgeConfig) *GuaranteeCalculator {
	return &GuaranteeCalculator{
		maxDeviation: cfg.MaxPriceDeviation,
		maxLeverage:  cfg.MaxLeverage,
		maxSizePct:   cfg.MaxSizePct,
	}
}

// Evaluate runs the guarantee algorithm. When the current price sits
// within the deviation threshold of the signal price and the base
// parameters already guarantee profit, they pass through unchanged.
// Otherwise the hedge is rescaled, leverage first and size second, and
// rejected when neither stays inside its ceiling with a positive
// guarantee.
func (c *GuaranteeCalculator) Evaluate(req GuaranteeRequest) GuaranteeResult {
	if req.Primary == nil {
		return rejected(0, "no primary position")
	}
	if req.SignalPrice <= 0 || req.CurrentPrice <= 0 {
		return rejected(0, "non-positive signal or current price")
	}
	if req.Primary.EntryPrice <= 0 || req.Primary.Leverage <= 0 {
		return rejected(0, "primary has no usable entry or leverage")
	}
	if req.BaseSize <= 0 || req.BaseLeverage <= 0 || req.TakeProfit <= 0 {
		return rejected(0, "non-positive hedge parameters")
	}

	deviation := math.Abs(req.CurrentPrice-req.SignalPrice) / req.SignalPrice

	if deviation <= c.maxDeviation {
		g := guarantee(req.Primary, req.CurrentPrice, req.BaseSize, req.BaseLeverage, req.TakeProfit)
		if g > 0 {
			return GuaranteeResult{
				ShouldOpen:      true,
				Size:            req.BaseSize,
				Leverage:        req.BaseLeverage,
				TakeProfit:      req.TakeProfit,
				ProfitGuarantee: g,
				Classification:  ClassificationOriginal,
				Method:          MethodNone,
				PriceDeviation:  deviation,
			}
		}
		// Base parameters lose money even without slippage; try the
		// adjustment path before giving up.
	}

	multiplier := 1 + 2*deviation + req.Primary.AdverseMove(req.CurrentPrice)
	shiftedTP := shiftTowardCurrent(req.TakeProfit, req.CurrentPrice, deviation)

	leverage := math.Min(req.BaseLeverage*multiplier, c.maxLeverage)
	if g := guarantee(req.Primary, req.CurrentPrice, req.BaseSize, leverage, shiftedTP); g > 0 {
		return GuaranteeResult{
			ShouldOpen:      true,
			Size:            req.BaseSize,
			Leverage:        leverage,
			TakeProfit:      shiftedTP,
			ProfitGuarantee: g,
			Classification:  ClassificationAdjusted,
			Method:          MethodLeverage,
			PriceDeviation:  deviation,
		}
	}

	size := math.Min(req.BaseSize*multiplier, c.maxSizePct)
	if g := guarantee(req.Primary, req.CurrentPrice, size, req.BaseLeverage, shiftedTP); g > 0 {
		return GuaranteeResult{
			ShouldOpen:      true,
			Size:            size,
			Leverage:        req.BaseLeverage,
			TakeProfit:      shiftedTP,
			ProfitGuarantee: g,
			Classification:  ClassificationAdjusted,
			Method:          MethodSize,
			PriceDeviation:  deviation,
		}
	}

	return rejected(deviation, "no adjustment within bounds yields a positive guarantee")
}

// guarantee computes the net balance-fraction outcome at the hedge
// take-profit: what the hedge earns from its entry at the current price,
// minus what the primary loses between its entry and that same price.
func guarantee(primary *position.Position, hedgeEntry, size, leverage, takeProfit float64) float64 {
	hedgeProfit := math.Abs(takeProfit-hedgeEntry) / hedgeEntry * size * leverage
	primaryLoss := primary.AdverseMove(takeProfit) * primary.Size * primary.Leverage
	return hedgeProfit - primaryLoss
}

// shiftTowardCurrent moves the take-profit half the observed deviation
// toward the current price, conceding part of the target to slippage.
func shiftTowardCurrent(takeProfit, current, deviation float64) float64 {
	if current >= takeProfit {
		return takeProfit * (1 + deviation/2)
	}
	return takeProfit * (1 - deviation/2)
}

func rejected(deviation float64, reason string) GuaranteeResult {
	return GuaranteeResult{
		Classification: ClassificationRejected,
		Method:         MethodNone,
		PriceDeviation: deviation,
		Reason:         reason,
	}
}
