// Package scorer implements the Market Scorer (§4.3): a weighted 0-100
// quality score across trend, momentum, volume, structure, and ML
// components. Grounded in the teacher's internal/signals/aggregator.go
// weighted multi-source consensus (SourceWeights/TypeWeights summed and
// clamped), generalized here to the spec's fixed five-component ladder
// instead of a pluggable signal-source registry.
package scorer

import (
	"fmt"

	"github.com/quantedge/decision-engine/internal/config"
	"github.com/quantedge/decision-engine/internal/context"
	"github.com/quantedge/decision-engine/pkg/types"
	"github.com/quantedge/decision-engine/pkg/utils"
)

// Result is the Market Scorer's contract output (§4.3).
type Result struct {
	Score      float64
	Components map[string]float64
	Signals    []string
}

// Scorer computes the weighted market-quality score.
type Scorer struct {
	weights config.ScorerWeights
}

// New builds a Scorer from the engine's configured component weights.
func New(weights config.ScorerWeights) *Scorer {
	return &Scorer{weights: weights}
}

type classBands struct {
	TrendStrongBuy, TrendWeakBuyLow     float64
	TrendStrongSell, TrendWeakSellHigh  float64
	AlignStrongBuy, AlignStrongSell     float64
}

// bandsFor returns the symbol-class-specific trend/alignment bands (§6).
func bandsFor(class utils.SymbolClass) classBands {
	switch class {
	case utils.SymbolClassIndices:
		return classBands{0.54, 0.50, 0.46, 0.50, 0.62, 0.38}
	case utils.SymbolClassCommodities:
		return classBands{0.56, 0.50, 0.44, 0.50, 0.64, 0.36}
	default: // FOREX and unknown default to the widest (forex) band
		return classBands{0.52, 0.50, 0.48, 0.50, 0.60, 0.40}
	}
}

// Score implements §4.3's contract for a hypothesized side.
func (s *Scorer) Score(ctx *context.Context, side types.Side) Result {
	components := make(map[string]float64)
	var signals []string

	bands := bandsFor(utils.ClassOfSymbol(ctx.Symbol))

	trend, trendSignals := s.scoreTrend(ctx, side, bands)
	momentum, momSignals := s.scoreMomentum(ctx, side)
	volume, volSignals := s.scoreVolume(ctx, side)
	structure, structSignals := s.scoreStructure(ctx)
	ml := utils.ClampFloat(ctx.MLConfidence, 0, 100)

	components["trend"] = trend
	components["momentum"] = momentum
	components["volume"] = volume
	components["structure"] = structure
	components["ml"] = ml

	signals = append(signals, trendSignals...)
	signals = append(signals, momSignals...)
	signals = append(signals, volSignals...)
	signals = append(signals, structSignals...)

	total := trend*s.weights.Trend + momentum*s.weights.Momentum +
		volume*s.weights.Volume + structure*s.weights.Structure + ml*s.weights.ML

	return Result{Score: utils.ClampFloat(total, 0, 100), Components: components, Signals: signals}
}

// timeframeTrendPoints are the per-timeframe point allocations summing to 75,
// plus 25 for alignment (§4.3 Trend row).
var timeframeTrendPoints = map[types.Timeframe]float64{
	types.D1:  25,
	types.H4:  20,
	types.H1:  15,
	types.M15: 10,
	types.M5:  5,
}

func (s *Scorer) scoreTrend(ctx *context.Context, side types.Side, bands classBands) (float64, []string) {
	total := 0.0
	var signals []string

	for _, tf := range []types.Timeframe{types.D1, types.H4, types.H1, types.M15, types.M5} {
		trend := ctx.Features.Trend(tf)
		pts := timeframeTrendPoints[tf]
		strong, weak := trendBand(trend, side, bands)
		switch {
		case strong:
			total += pts
			signals = append(signals, fmt.Sprintf("%s trend strong for %s", tf, side))
		case weak:
			total += pts / 2
			signals = append(signals, fmt.Sprintf("%s trend weak for %s", tf, side))
		}
	}

	alignment, _ := ctx.Features.Lookup("trend_alignment")
	switch {
	case side == types.SideBuy && alignment >= bands.AlignStrongBuy,
		side == types.SideSell && alignment <= bands.AlignStrongSell:
		total += 25
		signals = append(signals, "trend alignment strong")
	case side == types.SideBuy && alignment > 0.5,
		side == types.SideSell && alignment < 0.5:
		total += 12.5
		signals = append(signals, "trend alignment moderate")
	}

	return utils.ClampFloat(total, 0, 100), signals
}

func trendBand(trend float64, side types.Side, bands classBands) (strong, weak bool) {
	if side == types.SideBuy {
		if trend > bands.TrendStrongBuy {
			return true, false
		}
		if trend > bands.TrendWeakBuyLow {
			return false, true
		}
		return false, false
	}
	if trend < bands.TrendStrongSell {
		return true, false
	}
	if trend < bands.TrendWeakSellHigh {
		return false, true
	}
	return false, false
}

func (s *Scorer) scoreMomentum(ctx *context.Context, side types.Side) (float64, []string) {
	favorable := 1.0
	if side == types.SideSell {
		favorable = 0.0
	}
	total := 0.0
	var signals []string
	for _, tf := range types.Timeframes {
		if rsi, ok := ctx.Features.Lookup(string(tf) + ".rsi_alignment"); ok && rsi == favorable {
			total += 8
		}
		if macd, ok := ctx.Features.Lookup(string(tf) + ".macd_alignment"); ok && macd == favorable {
			total += 8
		}
	}
	if total > 0 {
		signals = append(signals, fmt.Sprintf("momentum agreement score %.0f", total))
	}
	return utils.ClampFloat(total, 0, 100), signals
}

func (s *Scorer) scoreVolume(ctx *context.Context, side types.Side) (float64, []string) {
	total := 0.0
	var signals []string

	accumDist, _ := ctx.Features.Lookup("accumulation_distribution")
	if (side == types.SideBuy && accumDist > 0.15) || (side == types.SideSell && accumDist < -0.15) {
		total += 30
		signals = append(signals, "institutional accumulation/distribution supports side")
	}

	bidAsk, _ := ctx.Features.Lookup("bid_ask_pressure")
	if (side == types.SideBuy && bidAsk > 0) || (side == types.SideSell && bidAsk < 0) {
		total += 15
		signals = append(signals, "order-book pressure supports side")
	}

	h1VolRatio, _ := ctx.Features.Lookup(string(types.H1) + ".volume_ratio")
	if h1VolRatio >= 1.0 {
		total += 10
	}

	largeH1, _ := ctx.Features.Lookup("large_player_bars_h1")
	if largeH1 > 0.2 {
		total += 25
		signals = append(signals, "large-player bars present")
	}

	spike, _ := ctx.Features.Lookup(string(types.H1) + ".volume_spike")
	if spike > 0.3 {
		total += 15
		signals = append(signals, "volume spike")
	}

	imbalance := bidAsk
	if (side == types.SideBuy && imbalance > 0.2) || (side == types.SideSell && imbalance < -0.2) {
		total += 10
	}

	return utils.ClampFloat(total, 0, 100), signals
}

func (s *Scorer) scoreStructure(ctx *context.Context) (float64, []string) {
	proximity, _ := ctx.Features.Lookup("support_resistance_proximity")
	round, _ := ctx.Features.Lookup("round_number_confluence")
	pivot, _ := ctx.Features.Lookup("pivot_confluence")
	total := (proximity + round + pivot) / 3 * 100
	var signals []string
	if total > 60 {
		signals = append(signals, "strong structural confluence")
	}
	return utils.ClampFloat(total, 0, 100), signals
}
