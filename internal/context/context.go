// Package context builds the EnhancedContext: the immutable, per-request
// value object that replaces cyclic references across decision modules
// (§9 design notes). It is constructed once per request from the
// FeatureVector, the snapshot, and the ensemble prediction, then passed by
// value into every pure scorer/decider/sizer — none of them holds a
// back-reference to the orchestrator. Shaped after the teacher's
// regime.RegimeState value object.
package context

import (
	"github.com/quantedge/decision-engine/internal/ensemble"
	"github.com/quantedge/decision-engine/internal/features"
	"github.com/quantedge/decision-engine/internal/regime"
	"github.com/quantedge/decision-engine/pkg/types"
	"github.com/quantedge/decision-engine/pkg/utils"
	"github.com/shopspring/decimal"
)

// Context is the EnhancedContext (§3). All fields are read-only by
// convention; nothing downstream mutates it.
type Context struct {
	Symbol       string
	CurrentPrice float64
	SnapshotTime int64

	Features *features.Vector
	Degraded bool

	Account types.Account

	// Positions currently open on this symbol only (§3).
	Positions []types.Position

	MLDirection  types.Side // meaningful only when !MLHold
	MLHold       bool
	MLConfidence float64 // 0-100

	Regime types.Regime

	// ATRRef is the ATR used for stop sizing: H1 preferred, fallback ladder
	// D1 -> H4 -> M15 (§3).
	ATRRef float64

	// Funded-account distances, derived from Account (§4.9).
	DistanceDaily float64
	DistanceDD    float64

	// VolatilityZ is the H1-vs-D1 volatility proxy used by regime
	// classification and the sizer's vol_mult (§4.5).
	VolatilityZ float64
}

// Build constructs the EnhancedContext for one request.
func Build(snap *types.Snapshot, fv *features.Vector, pred ensemble.Prediction, regimeDetector *regime.Detector) *Context {
	ctx := &Context{
		Symbol:       snap.Symbol,
		CurrentPrice: snap.CurrentPrice.InexactFloat64(),
		SnapshotTime: snap.SnapshotTime,
		Features:     fv,
		Degraded:     fv.Degraded(),
		Account:      snap.Account,
	}

	for _, p := range snap.Positions {
		if c, ok := utils.CanonicalizeSymbol(p.Symbol); p.Symbol == snap.Symbol || (ok && c == snap.Symbol) {
			ctx.Positions = append(ctx.Positions, p)
		}
	}

	if pred.Hold {
		ctx.MLHold = true
		ctx.MLConfidence = pred.Confidence
	} else {
		ctx.MLDirection = pred.Direction
		ctx.MLConfidence = pred.Confidence
	}

	trendAlignment, _ := fv.Lookup("trend_alignment")
	volZ := volatilityZScore(fv)
	ctx.VolatilityZ = volZ
	ctx.Regime = regimeDetector.Classify(trendAlignment, volZ)

	ctx.ATRRef = resolveATRRef(fv)

	daily := snap.Account.MaxDailyLoss.Sub(
		decimal.Max(decimal.Zero, snap.Account.DailyStartBal.Sub(snap.Account.Equity)))
	dd := snap.Account.MaxTotalDrawdown.Sub(
		decimal.Max(decimal.Zero, snap.Account.PeakBalance.Sub(snap.Account.Equity)))
	ctx.DistanceDaily, _ = daily.Float64()
	ctx.DistanceDD, _ = dd.Float64()

	return ctx
}

// volatilityZScore approximates current-vs-rolling volatility using the H1
// timeframe's volatility feature against the D1 volatility feature as a
// coarse baseline population of one, scaled — a cheap proxy that keeps
// regime classification a pure function of already-computed features
// instead of requiring a second bar-history pass.
func volatilityZScore(fv *features.Vector) float64 {
	h1Vol, _ := fv.Lookup(string(types.H1) + ".volatility")
	d1Vol, _ := fv.Lookup(string(types.D1) + ".volatility")
	if d1Vol == 0 {
		return 0
	}
	return (h1Vol - d1Vol) / d1Vol
}

// resolveATRRef implements the H1->D1->H4->M15 fallback ladder (§3).
func resolveATRRef(fv *features.Vector) float64 {
	if atr := fv.ATR(types.H1); atr > 0 {
		return atr
	}
	if atr := fv.ATR(types.D1); atr > 0 {
		return atr
	}
	if atr := fv.ATR(types.H4); atr > 0 {
		return atr
	}
	return fv.ATR(types.M15)
}
