// Package metadata implements the Position Metadata Store: the engine's one
// piece of durable process state (§9 design notes), keyed by broker ticket.
// It replaces the source's process-wide singleton with a small persistent
// key-value store that rebuilds itself from positions[] on cold start or on
// file corruption, adapted from the teacher's internal/data.Store metadata
// persistence but with an atomic write-to-temp-then-rename (§5, §6) the
// teacher's plain os.WriteFile did not need.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quantedge/decision-engine/pkg/types"
	"go.uber.org/zap"
)

// Record is per-ticket metadata: initial volume at first sighting, the
// pyramid/DCA counters the Position Manager increments, the monotone peak
// profit (recorded only; no decision rule reads it), and the reconstructed
// entry time.
type Record struct {
	InitialVolume float64   `json:"initial_volume"`
	AddCount      int       `json:"add_count"`
	DCACount      int       `json:"dca_count"`
	PeakProfit    float64   `json:"peak_profit"`
	EntryTime     time.Time `json:"entry_time"`
	MissingStreak int       `json:"missing_streak"`

	// ScaleOutBands records which progress bands (§4.6 step 7) have already
	// fired a partial exit for this ticket, so each fires at most once.
	ScaleOutBands map[string]bool `json:"scale_out_bands,omitempty"`

	// MLConfidenceSustainedSince tracks how long ML confidence has agreed
	// with the position's direction, used by the pyramid age precondition.
	MLConfidenceSustainedSince time.Time `json:"ml_confidence_sustained_since,omitempty"`
}

// Store is the process-wide, single-writer Position Metadata Store.
type Store struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	path    string
	records map[int64]*Record
}

// New loads the store from path, or starts empty if the file is absent or
// corrupt. Corruption is logged and never fatal — the orchestrator rebuilds
// live tickets from the next snapshot's positions[] (§4.8).
func New(logger *zap.Logger, path string) *Store {
	s := &Store{
		logger:  logger.Named("metadata"),
		path:    path,
		records: make(map[int64]*Record),
	}
	if path == "" {
		return s
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed reading metadata store, starting empty", zap.Error(err))
		}
		return s
	}
	var records map[int64]*Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("metadata store corrupt, rebuilding from positions on next snapshot", zap.Error(err))
		return s
	}
	s.records = records
	return s
}

// Get returns the record for a ticket, if one exists.
func (s *Store) Get(ticket int64) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[ticket]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Upsert creates a record for any ticket seen for the first time and
// refreshes peak_profit monotonically for tickets already tracked. now is
// the snapshot's reference time, used to reconstruct entry_time from
// age_minutes for newly-seen tickets.
func (s *Store) Upsert(positions []types.Position, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range positions {
		profit, _ := p.Profit.Float64()
		rec, ok := s.records[p.Ticket]
		if !ok {
			vol, _ := p.Volume.Float64()
			rec = &Record{
				InitialVolume: vol,
				PeakProfit:    profit,
				EntryTime:     now.Add(-time.Duration(p.AgeMinutes*float64(time.Minute))),
				ScaleOutBands: make(map[string]bool),
			}
			s.records[p.Ticket] = rec
		} else if profit > rec.PeakProfit {
			rec.PeakProfit = profit
		}
		rec.MissingStreak = 0
	}
	return s.persistLocked()
}

// Reconcile purges records for tickets absent from both the live position
// list and recent_trades for two consecutive snapshots (§4.8 invariant).
func (s *Store) Reconcile(positions []types.Position, recentTrades []types.RecentTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]bool, len(positions)+len(recentTrades))
	for _, p := range positions {
		seen[p.Ticket] = true
	}
	for _, t := range recentTrades {
		seen[t.Ticket] = true
	}

	var purge []int64
	for ticket, rec := range s.records {
		if seen[ticket] {
			rec.MissingStreak = 0
			continue
		}
		rec.MissingStreak++
		if rec.MissingStreak >= 2 {
			purge = append(purge, ticket)
		}
	}
	for _, ticket := range purge {
		delete(s.records, ticket)
	}
	return s.persistLocked()
}

// IncrementAddCount increments the pyramid counter for a ticket, enforcing
// the add_count <= 2 cap (§3 invariants). Returns false if the cap is hit.
func (s *Store) IncrementAddCount(ticket int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ticket]
	if !ok || rec.AddCount >= 2 {
		return false
	}
	rec.AddCount++
	_ = s.persistLocked()
	return true
}

// IncrementDCACount increments the DCA counter for a ticket, enforcing the
// dca_count <= 1 cap. Returns false if the cap is hit.
func (s *Store) IncrementDCACount(ticket int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ticket]
	if !ok || rec.DCACount >= 1 {
		return false
	}
	rec.DCACount++
	_ = s.persistLocked()
	return true
}

// MarkScaleOutBand records that a progress band has already fired a partial
// exit for this ticket. Returns false if it had already fired.
func (s *Store) MarkScaleOutBand(ticket int64, band string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ticket]
	if !ok {
		return false
	}
	if rec.ScaleOutBands == nil {
		rec.ScaleOutBands = make(map[string]bool)
	}
	if rec.ScaleOutBands[band] {
		return false
	}
	rec.ScaleOutBands[band] = true
	_ = s.persistLocked()
	return true
}

// TouchMLConfidenceSustained stamps the first moment ML confidence was seen
// agreeing with the position's direction, used by the pyramid age gate.
func (s *Store) TouchMLConfidenceSustained(ticket int64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ticket]
	if !ok {
		return
	}
	if rec.MLConfidenceSustainedSince.IsZero() {
		rec.MLConfidenceSustainedSince = now
	}
}

// ResetMLConfidenceSustained clears the sustained-since stamp, e.g. when ML
// direction flips away from the position.
func (s *Store) ResetMLConfidenceSustained(ticket int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[ticket]; ok {
		rec.MLConfidenceSustainedSince = time.Time{}
	}
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: marshal: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".metadata-*.tmp")
	if err != nil {
		return fmt.Errorf("metadata: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("metadata: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("metadata: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("metadata: rename: %w", err)
	}
	return nil
}
