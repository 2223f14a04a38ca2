package position_test

import (
	"testing"
	"time"

	"github.com/quantedge/decision-engine/internal/config"
	"github.com/quantedge/decision-engine/internal/context"
	"github.com/quantedge/decision-engine/internal/features"
	"github.com/quantedge/decision-engine/internal/metadata"
	"github.com/quantedge/decision-engine/internal/portfolio"
	"github.com/quantedge/decision-engine/internal/position"
	"github.com/quantedge/decision-engine/internal/scorer"
	"github.com/quantedge/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testCtx() *context.Context {
	fv := features.New().Compute(&types.Snapshot{Symbol: "eurusd"})
	return &context.Context{
		Symbol:       "eurusd",
		CurrentPrice: 1.1100,
		Features:     fv,
		MLDirection:  types.SideBuy,
		MLConfidence: 70,
		Regime:       types.RegimeTrendingUp,
	}
}

func TestHoldsWhenNoRiskDistanceRecorded(t *testing.T) {
	mgr := position.New(config.Default())
	meta := metadata.New(zap.NewNop(), "")
	pf := portfolio.New(config.Default())
	pos := types.Position{
		Ticket: 1, Symbol: "eurusd", Type: types.SideBuy,
		Volume: decimal.NewFromFloat(1), PriceOpen: decimal.NewFromFloat(1.10), SL: decimal.NewFromFloat(1.10),
	}
	meta.Upsert([]types.Position{pos}, time.Now())

	d := mgr.Evaluate(testCtx(), pos, meta, pf, scorer.Result{}, time.Now(), false, true)
	if d.Action != types.ActionHold {
		t.Fatalf("action = %v, want HOLD", d.Action)
	}
}

// TestCanTradeFalseBlocksPyramiding exercises §8 invariant 8 at the Position
// Manager boundary: a position deep enough in profit to clear the pyramiding
// profit threshold must not scale in or DCA once the funded-account guard has
// denied trading.
func TestCanTradeFalseBlocksPyramiding(t *testing.T) {
	mgr := position.New(config.Default())
	meta := metadata.New(zap.NewNop(), "")
	pf := portfolio.New(config.Default())
	pos := types.Position{
		Ticket: 3, Symbol: "eurusd", Type: types.SideBuy,
		Volume: decimal.NewFromFloat(1), PriceOpen: decimal.NewFromFloat(1.1000), SL: decimal.NewFromFloat(1.0950),
		Profit: decimal.NewFromFloat(500),
	}
	meta.Upsert([]types.Position{pos}, time.Now())
	meta.TouchMLConfidenceSustained(pos.Ticket, time.Now().Add(-time.Hour))

	d := mgr.Evaluate(testCtx(), pos, meta, pf, scorer.Result{Score: 80}, time.Now(), false, false)
	if d.Action == types.ActionScaleIn || d.Action == types.ActionDCA {
		t.Fatalf("action = %v, want no SCALE_IN/DCA when canTrade is false", d.Action)
	}
}

func TestIgnoresSmallLoss(t *testing.T) {
	mgr := position.New(config.Default())
	meta := metadata.New(zap.NewNop(), "")
	pf := portfolio.New(config.Default())
	pos := types.Position{
		Ticket: 2, Symbol: "eurusd", Type: types.SideBuy,
		Volume: decimal.NewFromFloat(1), PriceOpen: decimal.NewFromFloat(1.1000), SL: decimal.NewFromFloat(1.0950),
		Profit: decimal.NewFromFloat(-0.00001),
	}
	meta.Upsert([]types.Position{pos}, time.Now())

	d := mgr.Evaluate(testCtx(), pos, meta, pf, scorer.Result{}, time.Now(), false, true)
	if d.PnLOfRisk != 0 {
		t.Errorf("PnLOfRisk = %v, want 0 under the small-loss floor", d.PnLOfRisk)
	}
}
