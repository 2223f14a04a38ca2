// Package ensemble implements the Ensemble Predictor (§4.2): per-symbol
// averaged probabilities over two tree ensembles, producing a direction and
// a confidence. Exporters and trainers that build the actual forest/GBT
// artifacts are out of scope (§1) — the engine consumes them as opaque
// serialized predictors. Adapted from the teacher's strategy.StrategyRegistry
// factory-map pattern (here: a per-symbol artifact map instead of a
// per-name strategy map) since both are "load once, dispatch by key".
package ensemble

import (
	"math"
	"sync"

	"github.com/quantedge/decision-engine/internal/features"
	"github.com/quantedge/decision-engine/pkg/types"
	"go.uber.org/zap"
)

// Model is one trained classifier's prediction surface. Real forest/GBT
// artifacts are opaque beyond this interface; the engine never inspects
// their internals.
type Model interface {
	// Predict returns class probabilities for BUY and SELL; HOLD (ternary
	// models) is whatever probability mass is left over.
	Predict(x []float64) (probBuy, probSell float64)
	// FeatureNames returns the ordered feature names this model was trained
	// against, used to project/reorder the engine's current schema (§4.2, §9).
	FeatureNames() []string
}

// Artifact bundles the two classifiers averaged for one symbol (§4.2: "e.g.
// a random forest and a gradient-boosted trees model").
type Artifact struct {
	Forest Model
	GBT    Model
}

// Config holds the predictor's calibration thresholds.
type Config struct {
	CalibrationFloor float64 // below this max-probability, force HOLD
	DisagreementMargin float64 // classifiers disagree on argmax with avg margin below this -> HOLD
}

// DefaultConfig matches §4.2's stated defaults.
func DefaultConfig() Config {
	return Config{CalibrationFloor: 52, DisagreementMargin: 0.04}
}

// Predictor holds loaded per-symbol artifacts and produces (direction,
// confidence) from a FeatureVector.
type Predictor struct {
	logger *zap.Logger
	cfg    Config

	mu        sync.RWMutex
	artifacts map[string]*Artifact
}

// New builds an empty Predictor; artifacts are registered via LoadArtifact.
func New(logger *zap.Logger, cfg Config) *Predictor {
	return &Predictor{
		logger:    logger.Named("ensemble"),
		cfg:       cfg,
		artifacts: make(map[string]*Artifact),
	}
}

// LoadArtifact registers an already-decoded two-model ensemble for a
// canonical symbol; it does no I/O itself (artifact files are read by
// LoadJSONModel at startup). After load, artifacts are read-only.
func (p *Predictor) LoadArtifact(symbol string, artifact *Artifact) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.artifacts[symbol] = artifact
}

// Prediction is the Ensemble Predictor's output.
type Prediction struct {
	Direction  types.Side // meaningless when Direction is the zero value and Hold is true
	Hold       bool
	Confidence float64 // 0-100
}

// Predict implements the contract in §4.2.
func (p *Predictor) Predict(symbol string, v *features.Vector) Prediction {
	p.mu.RLock()
	artifact, ok := p.artifacts[symbol]
	p.mu.RUnlock()
	if !ok {
		return Prediction{Hold: true, Confidence: 50}
	}

	forestBuy, forestSell := artifact.Forest.Predict(project(v, artifact.Forest.FeatureNames()))
	gbtBuy, gbtSell := artifact.GBT.Predict(project(v, artifact.GBT.FeatureNames()))

	avgBuy := (forestBuy + gbtBuy) / 2
	avgSell := (forestSell + gbtSell) / 2
	avgHold := math.Max(0, 1-avgBuy-avgSell)

	dir, maxProb := argmax(avgBuy, avgSell, avgHold)
	confidence := maxProb * 100

	if maxProb*100 < p.cfg.CalibrationFloor {
		return Prediction{Hold: true, Confidence: confidence}
	}

	forestDir, _ := argmax(forestBuy, forestSell, math.Max(0, 1-forestBuy-forestSell))
	gbtDir, _ := argmax(gbtBuy, gbtSell, math.Max(0, 1-gbtBuy-gbtSell))
	if forestDir != gbtDir {
		margin := math.Abs((forestBuy-forestSell)+(gbtBuy-gbtSell)) / 2
		if margin < p.cfg.DisagreementMargin {
			return Prediction{Hold: true, Confidence: confidence}
		}
	}

	if dir == "HOLD" {
		return Prediction{Hold: true, Confidence: confidence}
	}
	return Prediction{Direction: types.Side(dir), Confidence: confidence}
}

func argmax(buy, sell, hold float64) (string, float64) {
	best, val := "HOLD", hold
	if buy > val {
		best, val = "BUY", buy
	}
	if sell > val {
		best, val = "SELL", sell
	}
	return best, val
}

// project reorders/fills the engine's current FeatureVector to an artifact's
// expected feature names: extra engine features are dropped, names the
// artifact expects but the engine no longer computes fall back to the
// schema's neutral default via a zero-valued read (§4.2 failure modes, §9).
func project(v *features.Vector, names []string) []float64 {
	out := make([]float64, len(names))
	for i, name := range names {
		if val, ok := v.Lookup(name); ok {
			out[i] = val
		}
	}
	return out
}
