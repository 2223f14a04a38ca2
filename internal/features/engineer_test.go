package features_test

import (
	"testing"

	"github.com/quantedge/decision-engine/internal/features"
	"github.com/quantedge/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func TestSchemaLengthIsFixed(t *testing.T) {
	if features.F != len(features.Schema) {
		t.Fatalf("F = %d, len(Schema) = %d", features.F, len(features.Schema))
	}
	if features.F < 160 || features.F > 180 {
		t.Fatalf("F = %d, expected roughly 170 per spec", features.F)
	}
}

func TestComputeOnEmptySnapshotIsDegraded(t *testing.T) {
	eng := features.New()
	snap := &types.Snapshot{Symbol: "eurusd", Timeframes: map[types.Timeframe][]types.Bar{}}

	v := eng.Compute(snap)
	if !v.Degraded() {
		t.Fatal("expected degraded context for a snapshot with no bars")
	}
	if len(v.Values()) != features.F {
		t.Fatalf("len(values) = %d, want %d", len(v.Values()), features.F)
	}
	for tf := range types.Timeframes {
		_ = tf
	}
}

func barsWithTrend(n int, start, step float64) []types.Bar {
	bars := make([]types.Bar, n)
	price := start
	for i := 0; i < n; i++ {
		bars[i] = types.Bar{
			Time:   int64(n - i),
			Open:   price,
			High:   price + 1,
			Low:    price - 1,
			Close:  price,
			Volume: 1000,
		}
		price -= step // bars are newest-first; stepping down as i increases means price rose into the present
	}
	return bars
}

func TestComputeProducesStrongUptrend(t *testing.T) {
	eng := features.New()
	snap := &types.Snapshot{
		Symbol:       "eurusd",
		CurrentPrice: decimal.NewFromFloat(1.10),
		Timeframes: map[types.Timeframe][]types.Bar{
			types.H1: barsWithTrend(60, 1.10, 0.002),
		},
		SymbolInfo: types.SymbolInfo{
			TickSize: decimal.NewFromFloat(0.0001),
			TickValue: decimal.NewFromFloat(1),
			MinLot:   decimal.NewFromFloat(0.01),
			LotStep:  decimal.NewFromFloat(0.01),
		},
	}

	v := eng.Compute(snap)
	if v.Degraded() {
		t.Fatal("60 H1 bars should not be degraded")
	}
	if v.TimeframeMissing(types.H1) {
		t.Fatal("H1 should not be flagged missing")
	}
	if trend := v.Trend(types.H1); trend <= 0.5 {
		t.Errorf("H1 trend = %v, want > 0.5 for a rising close series", trend)
	}
}
