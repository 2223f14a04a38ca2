package entry_test

import (
	"testing"

	"github.com/quantedge/decision-engine/internal/config"
	"github.com/quantedge/decision-engine/internal/context"
	"github.com/quantedge/decision-engine/internal/entry"
	"github.com/quantedge/decision-engine/internal/features"
	"github.com/quantedge/decision-engine/internal/scorer"
	"github.com/quantedge/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func barsWithTrend(n int, start, step float64) []types.Bar {
	bars := make([]types.Bar, n)
	price := start
	for i := 0; i < n; i++ {
		bars[i] = types.Bar{Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 1000}
		price -= step
	}
	return bars
}

// buildCtx builds a context with a strong uptrend on H1/H4/D1 so the
// core-alignment gate (§4.4 rule 4) passes for a BUY direction.
func buildCtx(t *testing.T, mlDir types.Side, mlConf float64) *context.Context {
	t.Helper()
	fv := features.New().Compute(&types.Snapshot{
		Symbol:       "eurusd",
		CurrentPrice: decimal.NewFromFloat(1.10),
		Timeframes: map[types.Timeframe][]types.Bar{
			types.H1: barsWithTrend(60, 1.10, 0.002),
			types.H4: barsWithTrend(60, 1.10, 0.002),
			types.D1: barsWithTrend(60, 1.10, 0.002),
		},
	})
	return &context.Context{
		Symbol:       "eurusd",
		Features:     fv,
		MLDirection:  mlDir,
		MLConfidence: mlConf,
	}
}

func TestRejectsWhenMarketClosed(t *testing.T) {
	d := entry.New(config.Default())
	ctx := buildCtx(t, types.SideBuy, 80)
	res := entry.Decide(d, ctx, scorer.Result{Score: 80}, false, true, 0, 0)
	if res.Approve {
		t.Fatal("expected rejection when market is closed")
	}
}

func TestRejectsBelowMinScore(t *testing.T) {
	d := entry.New(config.Default())
	ctx := buildCtx(t, types.SideBuy, 80)
	res := entry.Decide(d, ctx, scorer.Result{Score: 40}, true, true, 0, 0)
	if res.Approve {
		t.Fatal("expected rejection below min score")
	}
}

func TestRejectsOnHold(t *testing.T) {
	d := entry.New(config.Default())
	ctx := buildCtx(t, types.SideBuy, 80)
	ctx.MLHold = true
	res := entry.Decide(d, ctx, scorer.Result{Score: 80}, true, true, 0, 0)
	if res.Approve {
		t.Fatal("expected rejection when ML direction is HOLD")
	}
}

func TestRejectsPortfolioHeatOverCeiling(t *testing.T) {
	d := entry.New(config.Default())
	ctx := buildCtx(t, types.SideBuy, 80)
	res := entry.Decide(d, ctx, scorer.Result{Score: 80}, true, true, 0.049, 0.01)
	if res.Approve {
		t.Fatal("expected rejection when added heat would exceed the ceiling")
	}
}
