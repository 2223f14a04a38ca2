// Package entry implements the Entry Decider (§4.4): a gate-ladder on
// quality, trend alignment, and ML confidence, adapted from the teacher's
// execution.RiskManager.CheckOrder gate-ladder style (a sequence of
// named checks, each able to reject before the trade reaches sizing).
package entry

import (
	"fmt"

	"github.com/quantedge/decision-engine/internal/config"
	"github.com/quantedge/decision-engine/internal/context"
	"github.com/quantedge/decision-engine/internal/scorer"
	"github.com/quantedge/decision-engine/pkg/types"
)

// Decision is the Entry Decider's contract output (§4.4).
type Decision struct {
	Approve bool
	Side    types.Side
	Reason  string
	Quality float64
}

// Decider gates candidate entries.
type Decider struct {
	thresholds  config.EntryThresholds
	heatCeiling float64
}

// New builds an Entry Decider from engine configuration.
func New(cfg config.EngineConfig) *Decider {
	return &Decider{
		thresholds:  cfg.EntryThresholds,
		heatCeiling: cfg.FundedAccountLimits.PortfolioHeatCeiling,
	}
}

// Decide implements the rule ladder in §4.4. marketOpen and accountOK are
// resolved by the orchestrator/guard before this call (rule 1); score must
// already be computed for the ml_direction side (rule 4: side is fixed by
// ml_direction). currentHeatPct is the portfolio heat already open and
// addedHeatPct the heat the candidate trade would add at its base risk; their
// sum is used for the rule-7 ceiling check.
func Decide(d *Decider, ctx *context.Context, score scorer.Result, marketOpen, accountOK bool, currentHeatPct, addedHeatPct float64) Decision {
	if !marketOpen {
		return Decision{Reason: "market closed"}
	}
	if !accountOK {
		return Decision{Reason: "account guard"}
	}
	if ctx.MLHold {
		return Decision{Reason: "no ml direction"}
	}
	if score.Score < d.thresholds.MinScore {
		return Decision{Reason: "score below threshold"}
	}

	side := ctx.MLDirection
	agree, avgTrend := coreAlignment(ctx, side)

	floor, ok := adaptiveMLFloor(d.thresholds, agree)
	if !ok {
		return Decision{Reason: "insufficient trend alignment"}
	}
	if ctx.MLConfidence < floor {
		return Decision{Reason: fmt.Sprintf("ml confidence %.1f below adaptive floor %.1f", ctx.MLConfidence, floor)}
	}

	if side == types.SideBuy && avgTrend < 0.5 {
		return Decision{Reason: "ml/trend direction conflict"}
	}
	if side == types.SideSell && avgTrend > 0.5 {
		return Decision{Reason: "ml/trend direction conflict"}
	}

	if currentHeatPct+addedHeatPct > d.heatCeiling {
		return Decision{Reason: "portfolio heat"}
	}

	return Decision{Approve: true, Side: side, Reason: "approved", Quality: score.Score / 100}
}

// coreAlignment returns the count of {H1,H4,D1} trends agreeing with side,
// and their mean (used for the ml/trend conflict check).
func coreAlignment(ctx *context.Context, side types.Side) (agree int, avgTrend float64) {
	tfs := []types.Timeframe{types.H1, types.H4, types.D1}
	sum := 0.0
	for _, tf := range tfs {
		trend := ctx.Features.Trend(tf)
		sum += trend
		if side == types.SideBuy && trend > 0.5 {
			agree++
		} else if side == types.SideSell && trend < 0.5 {
			agree++
		}
	}
	return agree, sum / float64(len(tfs))
}

// adaptiveMLFloor implements §4.4 rule 5: the ML-confidence floor required
// at each alignment level. Alignment 0/3 always rejects.
func adaptiveMLFloor(t config.EntryThresholds, agree int) (float64, bool) {
	switch agree {
	case 3:
		return t.MLFloorAlign3, true
	case 2:
		return t.MLFloorAlign2, true
	case 1:
		return t.MLFloorAlign1, true
	default:
		return 0, false
	}
}
