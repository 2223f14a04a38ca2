package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/quantedge/decision-engine/internal/config"
	"github.com/quantedge/decision-engine/internal/ensemble"
	"github.com/quantedge/decision-engine/internal/events"
	"github.com/quantedge/decision-engine/internal/orchestrator"
	"github.com/quantedge/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// aMonday is a fixed, known Monday so guard.MarketOpen's weekly window
// matches the default trading-hours config regardless of wall-clock time.
var aMonday = time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)

func healthyAccount() types.Account {
	return types.Account{
		Balance:          decimal.NewFromInt(10000),
		Equity:           decimal.NewFromInt(10000),
		DailyStartBal:    decimal.NewFromInt(10000),
		PeakBalance:      decimal.NewFromInt(10000),
		MaxDailyLoss:     decimal.NewFromInt(500),
		MaxTotalDrawdown: decimal.NewFromInt(1000),
	}
}

func newTestEngine(t *testing.T) *orchestrator.Engine {
	t.Helper()
	cfg := config.Default()
	cfg.MetadataPath = t.TempDir() + "/position_metadata.json"
	predictor := ensemble.New(zap.NewNop(), ensemble.DefaultConfig())
	return orchestrator.New(zap.NewNop(), cfg, predictor, nil)
}

// violatingAccount breaches the daily-loss envelope: equity has fallen more
// than MaxDailyLoss below the day's starting balance.
func violatingAccount() types.Account {
	return types.Account{
		Balance:          decimal.NewFromInt(9000),
		Equity:           decimal.NewFromInt(9000),
		DailyStartBal:    decimal.NewFromInt(10000),
		PeakBalance:      decimal.NewFromInt(10000),
		MaxDailyLoss:     decimal.NewFromInt(500),
		MaxTotalDrawdown: decimal.NewFromInt(1000),
	}
}

func TestDecideMarketClosedHolds(t *testing.T) {
	e := newTestEngine(t)
	snap := &types.Snapshot{
		Symbol:       "EURUSD",
		MarketClosed: true,
		SnapshotTime: aMonday.Unix(),
		Account:      healthyAccount(),
	}

	reply := e.Decide(context.Background(), snap)
	if reply.Action != types.ActionHold || reply.Reason != "market closed" {
		t.Fatalf("reply = %+v, want HOLD/market closed", reply)
	}
}

func TestDecideUnknownSymbolHolds(t *testing.T) {
	e := newTestEngine(t)
	snap := &types.Snapshot{
		Symbol:       "NOTREAL",
		SnapshotTime: aMonday.Unix(),
		Account:      healthyAccount(),
	}

	reply := e.Decide(context.Background(), snap)
	if reply.Action != types.ActionHold || reply.Reason != "unknown symbol" {
		t.Fatalf("reply = %+v, want HOLD/unknown symbol", reply)
	}
}

func TestDecideDegradedSnapshotHolds(t *testing.T) {
	e := newTestEngine(t)
	snap := &types.Snapshot{
		Symbol:       "EURUSD",
		SnapshotTime: aMonday.Unix(),
		Account:      healthyAccount(),
	}

	reply := e.Decide(context.Background(), snap)
	if reply.Action != types.ActionHold || reply.Reason != "degraded" {
		t.Fatalf("reply = %+v, want HOLD/degraded", reply)
	}
}

// TestDecideNoArtifactHoldsWithNoMLDirection exercises the entry path
// (guard -> features -> ensemble) for a symbol with no loaded ensemble
// artifact: the predictor always returns Hold, so the request is rejected for
// want of an ML direction before the scorer and entry decider run, rather
// than by any degraded-data short-circuit.
func TestDecideNoArtifactHoldsWithNoMLDirection(t *testing.T) {
	e := newTestEngine(t)

	bars := make([]types.Bar, 60)
	price := 1.10
	for i := range bars {
		bars[i] = types.Bar{Time: aMonday.Add(-time.Duration(60-i) * time.Hour).Unix(), Open: price, High: price, Low: price, Close: price, Volume: 100}
	}

	snap := &types.Snapshot{
		Symbol:       "EURUSD",
		CurrentPrice: decimal.NewFromFloat(price),
		SnapshotTime: aMonday.Unix(),
		Account:      healthyAccount(),
		SymbolInfo: types.SymbolInfo{
			ContractSize: decimal.NewFromInt(100000),
			TickSize:     decimal.NewFromFloat(0.0001),
			TickValue:    decimal.NewFromFloat(1),
			MinLot:       decimal.NewFromFloat(0.01),
			MaxLot:       decimal.NewFromInt(100),
			LotStep:      decimal.NewFromFloat(0.01),
		},
		Timeframes: map[types.Timeframe][]types.Bar{types.H1: bars},
	}

	reply := e.Decide(context.Background(), snap)
	if reply.Action != types.ActionHold || reply.Reason != "no ml direction" {
		t.Fatalf("reply = %+v, want HOLD/no ml direction", reply)
	}
}

// TestDecideIsSerializedAcrossConcurrentCallers exercises the single-writer
// mutex discipline (§5): concurrent Decide calls for the same symbol must
// not race on PortfolioState/Metadata, and every call still returns.
func TestDecideIsSerializedAcrossConcurrentCallers(t *testing.T) {
	e := newTestEngine(t)
	snap := &types.Snapshot{
		Symbol:       "EURUSD",
		SnapshotTime: aMonday.Unix(),
		Account:      healthyAccount(),
	}

	done := make(chan types.Reply, 8)
	for i := 0; i < 8; i++ {
		go func() {
			done <- e.Decide(context.Background(), snap)
		}()
	}
	for i := 0; i < 8; i++ {
		reply := <-done
		if reply.Action != types.ActionHold {
			t.Errorf("reply = %+v, want HOLD", reply)
		}
	}
}

// TestDecideWithOpenPositionAndGuardViolationNeverScalesIn exercises §8
// invariant 8 at the orchestrator boundary: a symbol with an existing open
// position still routes through the Funded-Account Guard verdict, and a
// denied account must publish its AccountGuardEvent rather than silently
// falling through to position management as if nothing were wrong.
func TestDecideWithOpenPositionAndGuardViolationNeverScalesIn(t *testing.T) {
	cfg := config.Default()
	cfg.MetadataPath = t.TempDir() + "/position_metadata.json"
	predictor := ensemble.New(zap.NewNop(), ensemble.DefaultConfig())
	bus := events.NewEventBus(zap.NewNop(), events.DefaultEventBusConfig())
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("bus.Start: %v", err)
	}
	defer bus.Stop()

	guardEvents := make(chan *events.AccountGuardEvent, 4)
	bus.Subscribe(events.EventTypeAccountGuard, func(ev events.Event) error {
		guardEvents <- ev.(*events.AccountGuardEvent)
		return nil
	})

	e := orchestrator.New(zap.NewNop(), cfg, predictor, bus)

	pos := types.Position{
		Ticket:    1,
		Symbol:    "EURUSD",
		Type:      types.SideBuy,
		Volume:    decimal.NewFromFloat(1),
		PriceOpen: decimal.NewFromFloat(1.1000),
		SL:        decimal.NewFromFloat(1.0950),
		Profit:    decimal.NewFromFloat(500),
	}

	bars := make([]types.Bar, 60)
	price := 1.1050
	for i := range bars {
		bars[i] = types.Bar{Time: aMonday.Add(-time.Duration(60-i) * time.Hour).Unix(), Open: price, High: price, Low: price, Close: price, Volume: 100}
	}

	snap := &types.Snapshot{
		Symbol:       "EURUSD",
		CurrentPrice: decimal.NewFromFloat(price),
		SnapshotTime: aMonday.Unix(),
		Account:      violatingAccount(),
		Positions:    []types.Position{pos},
		SymbolInfo: types.SymbolInfo{
			ContractSize: decimal.NewFromInt(100000),
			TickSize:     decimal.NewFromFloat(0.0001),
			TickValue:    decimal.NewFromFloat(1),
			MinLot:       decimal.NewFromFloat(0.01),
			MaxLot:       decimal.NewFromInt(100),
			LotStep:      decimal.NewFromFloat(0.01),
		},
		Timeframes: map[types.Timeframe][]types.Bar{types.H1: bars},
	}

	reply := e.Decide(context.Background(), snap)
	if reply.Action == types.ActionScaleIn || reply.Action == types.ActionDCA {
		t.Fatalf("reply = %+v, want no SCALE_IN/DCA while the funded-account guard denies trading", reply)
	}

	select {
	case ev := <-guardEvents:
		if ev.Reason == "" {
			t.Fatal("expected a non-empty guard denial reason")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for AccountGuardEvent with an open position")
	}
}
