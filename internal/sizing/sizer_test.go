package sizing_test

import (
	"testing"

	"github.com/quantedge/decision-engine/internal/config"
	"github.com/quantedge/decision-engine/internal/context"
	"github.com/quantedge/decision-engine/internal/features"
	"github.com/quantedge/decision-engine/internal/sizing"
	"github.com/quantedge/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func baseCtx() *context.Context {
	fv := features.New().Compute(&types.Snapshot{Symbol: "eurusd"})
	return &context.Context{
		Symbol:       "eurusd",
		CurrentPrice: 1.1050,
		Features:     fv,
		Account:      types.Account{Balance: decimal.NewFromFloat(100000)},
		MLConfidence: 70,
		Regime:       types.RegimeTrendingUp,
		ATRRef:       0.0020,
	}
}

func TestRejectsZeroExpectedReturn(t *testing.T) {
	s := sizing.New(config.Default())
	ctx := baseCtx()
	ctx.MLConfidence = 0
	res := s.Size(ctx, sizing.Request{
		Side: types.SideBuy, Quality: 0.5, EntryPrice: 1.1050, StopPrice: 1.1020,
		TickSize: 0.0001, TickValue: 1, MinLot: 0.01, LotStep: 0.01,
	})
	if res.ShouldTrade {
		t.Fatal("expected rejection at zero ML confidence")
	}
}

func TestRejectsHighCorrelation(t *testing.T) {
	s := sizing.New(config.Default())
	ctx := baseCtx()
	res := s.Size(ctx, sizing.Request{
		Side: types.SideBuy, Quality: 0.9, EntryPrice: 1.1050, StopPrice: 1.1020,
		TickSize: 0.0001, TickValue: 1, MinLot: 0.01, LotStep: 0.01,
		Correlation: 0.95, RollingWinRate: 0.55,
	})
	if res.ShouldTrade {
		t.Fatal("expected rejection above the correlation ceiling")
	}
}

func TestApprovedSizeRespectsSymbolMaxLot(t *testing.T) {
	s := sizing.New(config.Default())
	ctx := baseCtx()
	ctx.Symbol = "usoil"
	res := s.Size(ctx, sizing.Request{
		Side: types.SideBuy, Quality: 1.0, EntryPrice: 75.00, StopPrice: 74.00,
		TickSize: 0.01, TickValue: 1, MinLot: 0.01, LotStep: 0.01,
		RollingWinRate: 0.6, RollingProfitFactor: 1.8,
	})
	if res.Lots > 10 {
		t.Errorf("lots = %v, want <= 10 (USOIL hard cap)", res.Lots)
	}
}
