package metadata_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/quantedge/decision-engine/internal/metadata"
	"github.com/quantedge/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestUpsertCreatesRecordFromAgeMinutes(t *testing.T) {
	logger := zap.NewNop()
	path := filepath.Join(t.TempDir(), "metadata.json")
	store := metadata.New(logger, path)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	positions := []types.Position{
		{Ticket: 1, Volume: decimal.NewFromInt(2), Profit: decimal.NewFromFloat(15.5), AgeMinutes: 30},
	}

	if err := store.Upsert(positions, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec, ok := store.Get(1)
	if !ok {
		t.Fatal("expected record for ticket 1")
	}
	if rec.InitialVolume != 2 {
		t.Errorf("initial_volume = %v, want 2", rec.InitialVolume)
	}
	if rec.PeakProfit != 15.5 {
		t.Errorf("peak_profit = %v, want 15.5", rec.PeakProfit)
	}
	wantEntry := now.Add(-30 * time.Minute)
	if !rec.EntryTime.Equal(wantEntry) {
		t.Errorf("entry_time = %v, want %v", rec.EntryTime, wantEntry)
	}
}

func TestPeakProfitIsMonotone(t *testing.T) {
	logger := zap.NewNop()
	store := metadata.New(logger, filepath.Join(t.TempDir(), "metadata.json"))
	now := time.Now()

	store.Upsert([]types.Position{{Ticket: 1, Volume: decimal.NewFromInt(1), Profit: decimal.NewFromFloat(50)}}, now)
	store.Upsert([]types.Position{{Ticket: 1, Volume: decimal.NewFromInt(1), Profit: decimal.NewFromFloat(30)}}, now)

	rec, _ := store.Get(1)
	if rec.PeakProfit != 50 {
		t.Errorf("peak_profit regressed to %v, want 50", rec.PeakProfit)
	}
}

func TestAddCountCapEnforced(t *testing.T) {
	logger := zap.NewNop()
	store := metadata.New(logger, filepath.Join(t.TempDir(), "metadata.json"))
	store.Upsert([]types.Position{{Ticket: 7, Volume: decimal.NewFromInt(1)}}, time.Now())

	if !store.IncrementAddCount(7) {
		t.Fatal("expected first increment to succeed")
	}
	if !store.IncrementAddCount(7) {
		t.Fatal("expected second increment to succeed")
	}
	if store.IncrementAddCount(7) {
		t.Fatal("expected third increment to be denied (add_count <= 2)")
	}
}

func TestReconcilePurgesAfterTwoConsecutiveAbsences(t *testing.T) {
	logger := zap.NewNop()
	store := metadata.New(logger, filepath.Join(t.TempDir(), "metadata.json"))
	store.Upsert([]types.Position{{Ticket: 9, Volume: decimal.NewFromInt(1)}}, time.Now())

	store.Reconcile(nil, nil)
	if _, ok := store.Get(9); !ok {
		t.Fatal("record purged after only one absence")
	}

	store.Reconcile(nil, nil)
	if _, ok := store.Get(9); ok {
		t.Fatal("record not purged after two consecutive absences")
	}
}

func TestReconcileKeepsRecordVisibleInRecentTrades(t *testing.T) {
	logger := zap.NewNop()
	store := metadata.New(logger, filepath.Join(t.TempDir(), "metadata.json"))
	store.Upsert([]types.Position{{Ticket: 3, Volume: decimal.NewFromInt(1)}}, time.Now())

	store.Reconcile(nil, []types.RecentTrade{{Ticket: 3, Profit: decimal.NewFromFloat(10)}})
	if _, ok := store.Get(3); !ok {
		t.Fatal("record should survive while visible in recent_trades")
	}
}

func TestStoreReloadsFromDiskAtomically(t *testing.T) {
	logger := zap.NewNop()
	path := filepath.Join(t.TempDir(), "metadata.json")

	store := metadata.New(logger, path)
	store.Upsert([]types.Position{{Ticket: 42, Volume: decimal.NewFromInt(3), Profit: decimal.NewFromFloat(7)}}, time.Now())

	reloaded := metadata.New(logger, path)
	rec, ok := reloaded.Get(42)
	if !ok {
		t.Fatal("expected ticket 42 to survive reload from disk")
	}
	if rec.InitialVolume != 3 {
		t.Errorf("initial_volume after reload = %v, want 3", rec.InitialVolume)
	}
}
