// Package position implements the Position Manager (§4.6): the per-position
// pyramid/DCA/partial-exit/full-exit algorithm, evaluated once per open
// position per request. Grounded in the teacher's backtester.risk giveback
// bookkeeping and autonomous.EnhancedAgent's position-aging checks, both
// folded here into one rule ladder instead of two separate subsystems.
package position

import (
	"math"
	"time"

	"github.com/quantedge/decision-engine/internal/config"
	"github.com/quantedge/decision-engine/internal/context"
	"github.com/quantedge/decision-engine/internal/metadata"
	"github.com/quantedge/decision-engine/internal/portfolio"
	"github.com/quantedge/decision-engine/internal/scorer"
	"github.com/quantedge/decision-engine/pkg/types"
)

// smallLossFloor is the ignore-small-loss floor in §4.6 step 9.
const smallLossFloor = 0.005

// pyramidAgeLimit bounds the window, measured from when ML confidence first
// agreed with the position's direction, within which pyramiding is allowed;
// once agreement has lasted this long, no further adds are approved.
const pyramidAgeLimit = 30 * time.Minute

// Decision is the Position Manager's contract output (§4.6).
type Decision struct {
	Action    types.Action
	Lots      float64 // add_lots for SCALE_IN/DCA, reduce_lots for SCALE_OUT
	Reason    string
	PnLOfRisk float64 // realized profit_pct_of_risk, for PortfolioState recording on CLOSE
}

// Manager evaluates the Position Manager's rule ladder for one open position.
type Manager struct {
	heatCeiling float64
}

// New builds a Position Manager from engine configuration.
func New(cfg config.EngineConfig) *Manager {
	return &Manager{heatCeiling: cfg.FundedAccountLimits.PortfolioHeatCeiling}
}

// Evaluate implements §4.6's rule ladder for one open position. dryRun is
// true for an out-of-order snapshot (§5): the decision is still computed,
// but no metadata counter, band, or ML-sustained timestamp is persisted.
// canTrade is the Funded-Account Guard's verdict (§8 invariant 8): when
// false, pyramiding and DCA — both of which add exposure — are skipped
// entirely, leaving only the exit-only partial/full-exit rules live.
func (m *Manager) Evaluate(ctx *context.Context, pos types.Position, meta *metadata.Store, pf *portfolio.State, market scorer.Result, now time.Time, dryRun bool, canTrade bool) Decision {
	rec, _ := meta.Get(pos.Ticket)

	riskDistance, _ := pos.PriceOpen.Sub(pos.SL).Abs().Float64()
	if riskDistance == 0 {
		return Decision{Action: types.ActionHold, Reason: "no initial risk distance recorded"}
	}
	initialRiskDollars := riskDistance * volumeOf(pos)

	profit, _ := pos.Profit.Float64()
	profitPctOfRisk := profit / initialRiskDollars
	if math.Abs(profitPctOfRisk) < smallLossFloor {
		profitPctOfRisk = 0
	}

	if !dryRun {
		mlAgrees := !ctx.MLHold && ctx.MLDirection == pos.Type
		if mlAgrees {
			meta.TouchMLConfidenceSustained(pos.Ticket, now)
		} else {
			meta.ResetMLConfidenceSustained(pos.Ticket)
		}
	}

	support, resistance := ctx.Features.SupportResistance()
	firstTarget, distanceToTarget, currentMove := targetGeometry(pos, ctx.CurrentPrice, support, resistance)

	pRecover := recoveryProbability(ctx, pos, profitPctOfRisk)
	pCont := continuationProbability(ctx, pos, distanceToTarget, riskDistance)
	pRev := reversalProbability(ctx, pos)

	if canTrade {
		if d, ok := m.tryPyramid(ctx, pos, rec, meta, pf, now, pCont, distanceToTarget, riskDistance, profitPctOfRisk, dryRun); ok {
			return d
		}
		if d, ok := m.tryDCA(ctx, pos, rec, meta, market, pRecover, profitPctOfRisk, dryRun); ok {
			return d
		}
	}
	if d, ok := tryPartialExit(pos, meta, firstTarget, currentMove, distanceToTarget, pRev, pCont, dryRun); ok {
		return d
	}
	if d, ok := tryFullExit(profitPctOfRisk, pCont, distanceToTarget, riskDistance); ok {
		return d
	}

	return Decision{Action: types.ActionHold, Reason: "no management rule matched", PnLOfRisk: profitPctOfRisk}
}

func volumeOf(pos types.Position) float64 {
	v, _ := pos.Volume.Float64()
	return v
}

// targetGeometry resolves the nearest opposing H1 S/R as the first target
// and derives progress-to-target (§4.6 step 7).
func targetGeometry(pos types.Position, currentPrice, support, resistance float64) (firstTarget, distanceToTarget, currentMove float64) {
	entry, _ := pos.PriceOpen.Float64()
	if pos.Type == types.SideBuy {
		firstTarget = resistance
		currentMove = currentPrice - entry
	} else {
		firstTarget = support
		currentMove = entry - currentPrice
	}
	if firstTarget <= 0 {
		return 0, 0, currentMove
	}
	if pos.Type == types.SideBuy {
		distanceToTarget = firstTarget - currentPrice
	} else {
		distanceToTarget = currentPrice - firstTarget
	}
	return firstTarget, math.Max(0, distanceToTarget), currentMove
}

// recoveryProbability implements §4.6 step 2: a logistic combination of five
// weighted signals, floored at 0.15.
func recoveryProbability(ctx *context.Context, pos types.Position, profitPctOfRisk float64) float64 {
	trendWithPosition := directionalTrend(ctx, pos.Type)
	mlSame := 0.0
	if !ctx.MLHold && ctx.MLDirection == pos.Type {
		mlSame = ctx.MLConfidence / 100
	}
	volSupport, _ := ctx.Features.Lookup(string(types.H1) + ".volume_ratio")
	volSupport = clamp01((volSupport - 0.5) / 1.5)
	tfAlignment, _ := ctx.Features.Lookup("trend_alignment")
	if pos.Type == types.SideSell {
		tfAlignment = 1 - tfAlignment
	}
	lossSeverity := clamp01(-profitPctOfRisk)
	lossPenalty := 1 - lossSeverity

	score := 0.35*trendWithPosition + 0.25*mlSame + 0.15*volSupport + 0.15*tfAlignment + 0.10*lossPenalty
	p := logistic(score)
	return math.Max(0.15, p)
}

// continuationProbability implements §4.6 step 3.
func continuationProbability(ctx *context.Context, pos types.Position, distanceToTarget, riskDistance float64) float64 {
	trendSame := directionalTrend(ctx, pos.Type)
	momentum := momentumAlignment(ctx, pos.Type)
	regimeBonus := 0.0
	if ctx.Regime == types.RegimeTrendingUp || ctx.Regime == types.RegimeTrendingDown {
		regimeBonus = 1.0
	}
	roomToTarget := 0.5
	if riskDistance > 0 {
		roomToTarget = clamp01(distanceToTarget / (3 * riskDistance))
	}
	h1Vol, _ := ctx.Features.Lookup(string(types.H1) + ".volatility")
	lowVolBonus := clamp01(1 - h1Vol*20)

	score := 0.40*trendSame + 0.20*momentum + 0.15*regimeBonus + 0.15*roomToTarget + 0.10*lowVolBonus
	return logistic(score)
}

// reversalProbability implements §4.6 step 4.
func reversalProbability(ctx *context.Context, pos types.Position) float64 {
	reversedFraction := 0.0
	tfs := []types.Timeframe{types.H1, types.H4, types.D1}
	for _, tf := range tfs {
		trend := ctx.Features.Trend(tf)
		if pos.Type == types.SideBuy && trend < 0.5 {
			reversedFraction++
		} else if pos.Type == types.SideSell && trend > 0.5 {
			reversedFraction++
		}
	}
	reversedFraction /= float64(len(tfs))

	mlFlip := 0.0
	if !ctx.MLHold && ctx.MLDirection != pos.Type {
		mlFlip = 1.0
	}

	volAgainst := 0.0
	accumDist, _ := ctx.Features.Lookup("accumulation_distribution")
	if pos.Type == types.SideBuy && accumDist < -0.15 {
		volAgainst = 1.0
	} else if pos.Type == types.SideSell && accumDist > 0.15 {
		volAgainst = 1.0
	}

	rsi, _ := ctx.Features.Lookup(string(types.H1) + ".rsi_raw")
	rsiExtreme := 0.0
	if pos.Type == types.SideBuy && rsi > 70 {
		rsiExtreme = 1.0
	} else if pos.Type == types.SideSell && rsi < 30 {
		rsiExtreme = 1.0
	}

	return clamp01(0.50*reversedFraction + 0.20*mlFlip + 0.15*volAgainst + 0.15*rsiExtreme)
}

func (m *Manager) tryPyramid(ctx *context.Context, pos types.Position, rec metadata.Record, meta *metadata.Store, pf *portfolio.State, now time.Time, pCont, distanceToTarget, riskDistance, profitPctOfRisk float64, dryRun bool) (Decision, bool) {
	if profitPctOfRisk <= 0.30 {
		return Decision{}, false
	}
	if rec.AddCount >= 2 {
		return Decision{}, false
	}
	if rec.MLConfidenceSustainedSince.IsZero() || now.Sub(rec.MLConfidenceSustainedSince) >= pyramidAgeLimit {
		return Decision{}, false
	}
	if pf.PerSymbolRiskPct(pos.Symbol)+m.heatCeiling/4 > m.heatCeiling {
		return Decision{}, false
	}

	roomToTarget := 0.5
	if riskDistance > 0 {
		roomToTarget = clamp01(distanceToTarget / (3 * riskDistance))
	}
	score := 0.40*pCont + 0.30*(ctx.MLConfidence/100) + 0.30*roomToTarget
	if score <= 0.70 {
		return Decision{}, false
	}
	if dryRun {
		if rec.AddCount >= 2 {
			return Decision{}, false
		}
	} else if !meta.IncrementAddCount(pos.Ticket) {
		return Decision{}, false
	}

	return Decision{
		Action:    types.ActionScaleIn,
		Lots:      0.40 * rec.InitialVolume,
		Reason:    "pyramiding a confirmed winner",
		PnLOfRisk: profitPctOfRisk,
	}, true
}

func (m *Manager) tryDCA(ctx *context.Context, pos types.Position, rec metadata.Record, meta *metadata.Store, market scorer.Result, pRecover, profitPctOfRisk float64, dryRun bool) (Decision, bool) {
	if profitPctOfRisk < -0.80 || profitPctOfRisk > -0.30 {
		return Decision{}, false
	}
	if rec.DCACount >= 1 {
		return Decision{}, false
	}
	if ctx.MLHold || ctx.MLDirection != pos.Type {
		return Decision{}, false
	}
	if ctx.Regime == types.RegimeVolatile {
		return Decision{}, false
	}

	score := 0.40*pRecover + 0.30*(ctx.MLConfidence/100) + 0.30*(market.Score/100)
	if score <= 0.75 {
		return Decision{}, false
	}
	if dryRun {
		if rec.DCACount >= 1 {
			return Decision{}, false
		}
	} else if !meta.IncrementDCACount(pos.Ticket) {
		return Decision{}, false
	}

	return Decision{
		Action:    types.ActionDCA,
		Lots:      0.30 * rec.InitialVolume,
		Reason:    "averaging into a recoverable loser",
		PnLOfRisk: profitPctOfRisk,
	}, true
}

func tryPartialExit(pos types.Position, meta *metadata.Store, firstTarget, currentMove, distanceToTarget, pRev, pCont float64, dryRun bool) (Decision, bool) {
	if firstTarget <= 0 || currentMove <= 0 {
		return Decision{}, false
	}
	progress := currentMove / (currentMove + distanceToTarget)

	var band string
	var threshold float64
	switch {
	case progress >= 0.75:
		band, threshold = "75", 0.25+0.15*(1-pCont)
	case progress >= 0.50:
		band, threshold = "50", 0.30+0.20*(1-pCont)
	default:
		return Decision{}, false
	}

	if pRev <= threshold {
		return Decision{}, false
	}
	if dryRun {
		rec, _ := meta.Get(pos.Ticket)
		if rec.ScaleOutBands[band] {
			return Decision{}, false
		}
	} else if !meta.MarkScaleOutBand(pos.Ticket, band) {
		return Decision{}, false
	}

	return Decision{
		Action: types.ActionScaleOut,
		Lots:   0.25 * volumeOf(pos),
		Reason: "distance-to-target partial exit",
	}, true
}

// tryFullExit implements §4.6 step 8's EV comparison. The 1.425x cap on
// EV_hold amplification is exclusive to this comparison (§9 open question,
// kept out of the entry-side ER math).
func tryFullExit(profitPctOfRisk, pCont, distanceToTarget, riskDistance float64) (Decision, bool) {
	if riskDistance <= 0 {
		return Decision{}, false
	}
	targetInRiskUnits := clamp(distanceToTarget/riskDistance, 0.5, 3.0)
	evHold := pCont*targetInRiskUnits - (1-pCont)*1.0
	evHold *= 1.425 // §4.6 step 8: amplification exclusive to this comparison (§9)
	evExit := profitPctOfRisk

	if evExit <= evHold {
		return Decision{}, false
	}
	return Decision{
		Action:    types.ActionClose,
		Reason:    "expected value of exiting now exceeds holding",
		PnLOfRisk: profitPctOfRisk,
	}, true
}

func directionalTrend(ctx *context.Context, side types.Side) float64 {
	trend := ctx.Features.Trend(types.H1)
	if side == types.SideSell {
		trend = 1 - trend
	}
	return trend
}

func momentumAlignment(ctx *context.Context, side types.Side) float64 {
	favorable := 1.0
	if side == types.SideSell {
		favorable = 0.0
	}
	total, n := 0.0, 0.0
	for _, tf := range []types.Timeframe{types.H1, types.H4} {
		if rsi, ok := ctx.Features.Lookup(string(tf) + ".rsi_alignment"); ok {
			if rsi == favorable {
				total++
			}
			n++
		}
		if macd, ok := ctx.Features.Lookup(string(tf) + ".macd_alignment"); ok {
			if macd == favorable {
				total++
			}
			n++
		}
	}
	if n == 0 {
		return 0.5
	}
	return total / n
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-4*(x-0.5)))
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
