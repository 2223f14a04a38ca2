// Package sizing implements the Elite Position Sizer (§4.5): an
// EV-proportional risk sizer that replaces the teacher's Kelly-fraction
// position_sizer.go with the spec's multiplier-ladder math, keeping the
// teacher's overall shape — a SizingConfig of bounds, a Request/Result pair,
// and a chain of named multiplicative adjustments tracked in Reasoning.
package sizing

import (
	"fmt"
	"math"

	"github.com/quantedge/decision-engine/internal/config"
	"github.com/quantedge/decision-engine/internal/context"
	"github.com/quantedge/decision-engine/pkg/types"
	"github.com/quantedge/decision-engine/pkg/utils"
	"github.com/shopspring/decimal"
)

// Request carries everything the sizer needs beyond the EnhancedContext.
type Request struct {
	Side                types.Side
	Quality             float64 // 0-1, from the Entry Decider (score/100)
	EntryPrice          float64
	StopPrice           float64
	TickSize            float64
	TickValue           float64
	MinLot              float64
	LotStep             float64
	RollingWinRate      float64
	RollingProfitFactor float64
	Correlation         float64 // signed, candidate side vs existing portfolio (§4.8)
	VolatilityZ         float64 // ATR z-score, drives vol_mult
}

// Result is the Elite Position Sizer's contract output (§4.5).
type Result struct {
	ShouldTrade    bool
	Lots           float64
	RiskDollars    float64
	ExpectedReturn float64
	Reasoning      []string
}

// Sizer computes EV-proportional position sizes.
type Sizer struct {
	bounds config.SizingBounds
}

// New builds an Elite Position Sizer from engine configuration.
func New(cfg config.EngineConfig) *Sizer {
	return &Sizer{bounds: cfg.SizingBounds}
}

// Size implements the algorithm in §4.5.
func (s *Sizer) Size(ctx *context.Context, req Request) Result {
	var reasoning []string

	riskDistance := math.Abs(req.EntryPrice - req.StopPrice)
	if riskDistance <= 0 {
		return Result{Reasoning: []string{"invalid stop distance"}}
	}

	rr := riskRewardRatio(ctx, req, riskDistance)
	er := req.Quality * (ctx.MLConfidence / 100) * ctx.Regime.Multiplier() * rr
	reasoning = append(reasoning, fmt.Sprintf("ER=%.3f (quality=%.2f ml=%.1f regime=%s rr=%.2f)",
		er, req.Quality, ctx.MLConfidence, ctx.Regime, rr))

	if er < 0 {
		return Result{ExpectedReturn: er, Reasoning: append(reasoning, "rejected: negative expected return")}
	}
	if er < s.bounds.MinExpectedReturn {
		return Result{ExpectedReturn: er, Reasoning: append(reasoning, "rejected: expected return too small")}
	}
	if math.Abs(req.Correlation) > s.bounds.MaxCorrelationAllowed {
		return Result{ExpectedReturn: er, Reasoning: append(reasoning, "rejected: correlation exceeds limit")}
	}
	if req.RollingWinRate < s.bounds.MinWinRateForLowER && er < 1.0 {
		return Result{ExpectedReturn: er, Reasoning: append(reasoning, "rejected: low win rate with insufficient ER")}
	}

	baseRisk, _ := ctx.Account.Balance.Float64()
	baseRisk *= s.bounds.BaseRiskPct

	qualityMult := lerp(s.bounds.QualityMultMin, s.bounds.QualityMultMax, req.Quality)
	diversificationMult := lerp(s.bounds.DiversificationMax, s.bounds.DiversificationMin, math.Abs(req.Correlation))
	performanceMult := performanceMultiplier(s.bounds, req.RollingWinRate, req.RollingProfitFactor)
	evMult := utils.ClampFloat(er, 0, 1.0)
	volMult := volMultiplier(s.bounds, req.VolatilityZ)

	riskDollars := baseRisk * qualityMult * diversificationMult * performanceMult * evMult * volMult
	reasoning = append(reasoning, fmt.Sprintf(
		"risk_dollars=%.2f (base=%.2f quality_mult=%.2f diversification_mult=%.2f performance_mult=%.2f ev_mult=%.2f vol_mult=%.2f)",
		riskDollars, baseRisk, qualityMult, diversificationMult, performanceMult, evMult, volMult))

	lots := lotsFromRisk(riskDollars, riskDistance, ctx.Symbol, req, s.bounds)

	return Result{
		ShouldTrade:    lots > 0,
		Lots:           lots,
		RiskDollars:    riskDollars,
		ExpectedReturn: er,
		Reasoning:      reasoning,
	}
}

// Stop implements the stop-distance contract in §4.5: 1.5x the reference
// ATR, never tighter than max(min_stop_ticks*tick_size, 1.5*ATR).
func Stop(ctx *context.Context, side types.Side, tickSize float64, minStopTicks float64) float64 {
	atrStop := 1.5 * ctx.ATRRef
	floor := utils.MaxFloat(minStopTicks*tickSize, atrStop)
	if side == types.SideBuy {
		return ctx.CurrentPrice - floor
	}
	return ctx.CurrentPrice + floor
}

// riskRewardRatio derives R:R from the ATR-based stop distance and the
// nearest market-structure target (§4.5 step 1).
func riskRewardRatio(ctx *context.Context, req Request, riskDistance float64) float64 {
	support, resistance := ctx.Features.SupportResistance()
	var target float64
	if req.Side == types.SideBuy && resistance > req.EntryPrice {
		target = resistance - req.EntryPrice
	} else if req.Side == types.SideSell && support > 0 && support < req.EntryPrice {
		target = req.EntryPrice - support
	}
	if target <= 0 {
		target = 1.5 * riskDistance // no structure target resolved: assume a neutral 1.5R
	}
	return target / riskDistance
}

func performanceMultiplier(b config.SizingBounds, winRate, profitFactor float64) float64 {
	wrComponent := lerp(b.PerformanceMultMin, b.PerformanceMultMax, utils.ClampFloat(winRate/0.6, 0, 1))
	pfComponent := lerp(b.PerformanceMultMin, b.PerformanceMultMax, utils.ClampFloat(profitFactor/2.0, 0, 1))
	return (wrComponent + pfComponent) / 2
}

func volMultiplier(b config.SizingBounds, volZ float64) float64 {
	if volZ <= 1.5 {
		return b.VolMultMax
	}
	excess := utils.ClampFloat((volZ-1.5)/1.5, 0, 1)
	return lerp(b.VolMultMax, b.VolMultMin, excess)
}

func lerp(lo, hi, t float64) float64 {
	return lo + (hi-lo)*utils.ClampFloat(t, 0, 1)
}

// lotsFromRisk converts dollar risk to a lot size (§4.5 step 6):
// risk_dollars / (|entry-stop| / tick_size * tick_value), rounded down to the
// lot step, clamped to [min_lot, symbol_max_lot], with symbol-specific hard
// caps overriding portfolio-derived sizing.
func lotsFromRisk(riskDollars, riskDistance float64, symbol string, req Request, b config.SizingBounds) float64 {
	if riskDistance <= 0 || req.TickSize <= 0 || req.TickValue <= 0 {
		return 0
	}
	riskPerLot := (riskDistance / req.TickSize) * req.TickValue
	if riskPerLot <= 0 {
		return 0
	}
	raw := riskDollars / riskPerLot

	step := req.LotStep
	if step <= 0 {
		step = 0.01
	}
	stepped := utils.RoundToStepSize(decimal.NewFromFloat(raw), decimal.NewFromFloat(step))
	lots, _ := stepped.Float64()

	minLot := req.MinLot
	if minLot <= 0 {
		minLot = step
	}
	maxLot := 100.0
	if cap, ok := b.SymbolMaxLots[symbol]; ok {
		maxLot = cap
	}
	return utils.ClampFloat(lots, minLot, maxLot)
}
