package ensemble_test

import (
	"testing"

	"github.com/quantedge/decision-engine/internal/ensemble"
	"github.com/quantedge/decision-engine/internal/features"
	"github.com/quantedge/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type stubModel struct {
	buy, sell float64
	names     []string
}

func (s *stubModel) FeatureNames() []string        { return s.names }
func (s *stubModel) Predict([]float64) (float64, float64) { return s.buy, s.sell }

func TestMissingArtifactHoldsAtConfidence50(t *testing.T) {
	p := ensemble.New(zap.NewNop(), ensemble.DefaultConfig())
	v := features.New().Compute(&types.Snapshot{Symbol: "eurusd"})

	pred := p.Predict("eurusd", v)
	if !pred.Hold || pred.Confidence != 50 {
		t.Fatalf("got %+v, want Hold=true Confidence=50", pred)
	}
}

func TestAgreeingClassifiersProduceBuy(t *testing.T) {
	p := ensemble.New(zap.NewNop(), ensemble.DefaultConfig())
	p.LoadArtifact("eurusd", &ensemble.Artifact{
		Forest: &stubModel{buy: 0.8, sell: 0.1},
		GBT:    &stubModel{buy: 0.75, sell: 0.1},
	})
	v := features.New().Compute(&types.Snapshot{
		Symbol:       "eurusd",
		CurrentPrice: decimal.NewFromFloat(1.1),
	})

	pred := p.Predict("eurusd", v)
	if pred.Hold {
		t.Fatal("expected a non-HOLD direction when both classifiers strongly agree")
	}
	if pred.Direction != types.SideBuy {
		t.Errorf("direction = %v, want BUY", pred.Direction)
	}
	if pred.Confidence < 52 {
		t.Errorf("confidence = %v, want >= calibration floor 52", pred.Confidence)
	}
}

func TestDisagreementForcesHold(t *testing.T) {
	p := ensemble.New(zap.NewNop(), ensemble.DefaultConfig())
	p.LoadArtifact("eurusd", &ensemble.Artifact{
		Forest: &stubModel{buy: 0.6, sell: 0.05},
		GBT:    &stubModel{buy: 0.05, sell: 0.6},
	})
	v := features.New().Compute(&types.Snapshot{Symbol: "eurusd"})

	pred := p.Predict("eurusd", v)
	if !pred.Hold {
		t.Fatal("expected HOLD when classifiers disagree on direction within the margin")
	}
}
