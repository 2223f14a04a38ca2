// Package regime classifies the coarse market state used as a multiplier
// throughout sizing and position management (§3, GLOSSARY). The teacher's
// internal/regime.Detector derives six HMM-inferred states from a Gaussian
// forward algorithm over returns and volatility; this engine's source
// material calls for a simpler, deterministic four-state classification
// driven by trend alignment and a volatility z-score, so the HMM machinery
// is replaced with a direct rule while keeping the teacher's
// Config/Detector/Classify naming and shape.
package regime

import (
	"math"

	"github.com/quantedge/decision-engine/pkg/types"
)

// Config holds the thresholds separating ranging from trending, and the
// volatility z-score above which the market is classified VOLATILE
// regardless of trend.
type Config struct {
	TrendAlignmentTrending float64 // |alignment - 0.5| above this => trending
	VolatilityZThreshold   float64
}

// DefaultConfig mirrors the symbol-class alignment bands used elsewhere in
// the engine (§6): moderately wide so RANGING captures genuinely directionless markets.
func DefaultConfig() Config {
	return Config{
		TrendAlignmentTrending: 0.12,
		VolatilityZThreshold:   1.5,
	}
}

// Detector classifies regime from already-computed trend and volatility inputs.
type Detector struct {
	cfg Config
}

// New builds a Detector.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Classify derives the regime from trend alignment (H1/H4/D1 up-minus-down
// trend votes mapped to [0,1], 0.5 meaning no consensus) and a volatility
// z-score (current ATR vs its rolling mean, in standard deviations).
func (d *Detector) Classify(trendAlignment, volatilityZ float64) types.Regime {
	if volatilityZ > d.cfg.VolatilityZThreshold {
		return types.RegimeVolatile
	}
	deviation := trendAlignment - 0.5
	if math.Abs(deviation) <= d.cfg.TrendAlignmentTrending {
		return types.RegimeRanging
	}
	if deviation > 0 {
		return types.RegimeTrendingUp
	}
	return types.RegimeTrendingDown
}

// VolatilityZScore computes a z-score for the latest value against a
// rolling population of prior values (e.g. recent ATR readings).
func VolatilityZScore(latest float64, history []float64) float64 {
	if len(history) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range history {
		mean += v
	}
	mean /= float64(len(history))

	variance := 0.0
	for _, v := range history {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(history))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	return (latest - mean) / stddev
}
