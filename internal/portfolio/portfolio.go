// Package portfolio tracks the engine's process-wide running totals: per-
// position risk, per-symbol exposure, and a rolling window of closed-trade
// performance, guarded by a single-writer discipline (§5). Adapted from the
// teacher's backtester.Portfolio running-total bookkeeping and
// execution.RiskManager's CorrelationGroups, generalized to the spec's
// calibrated correlation matrix instead of learned groupings.
package portfolio

import (
	"sync"

	"github.com/quantedge/decision-engine/internal/config"
	"github.com/quantedge/decision-engine/pkg/types"
	"github.com/quantedge/decision-engine/pkg/utils"
	"github.com/shopspring/decimal"
)

// riskEntry is one open position's contribution to portfolio risk.
type riskEntry struct {
	symbol   string
	side     types.Side
	riskPct  float64 // fraction of balance at risk
}

// State is the process-wide portfolio running totals. All mutation happens
// under the orchestrator's single-writer discipline; State itself only
// serializes concurrent readers against the one writer.
type State struct {
	mu sync.RWMutex

	correlation config.CorrelationMatrix
	window      int

	risk map[int64]riskEntry // ticket -> risk contribution

	// closedPnL is a bounded rolling window of realized-trade results (as a
	// fraction of risk, win/loss), oldest-first, capped at `window`.
	closedPnL []float64
}

// New builds an empty PortfolioState.
func New(cfg config.EngineConfig) *State {
	return &State{
		correlation: cfg.Correlation,
		window:      cfg.PerformanceWindow,
		risk:        make(map[int64]riskEntry),
	}
}

// SetPositionRisk records or updates the risk contribution of one open
// position, as a fraction of account balance.
func (s *State) SetPositionRisk(ticket int64, symbol string, side types.Side, riskPct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.risk[ticket] = riskEntry{symbol: symbol, side: side, riskPct: riskPct}
}

// ClearPositionRisk removes a ticket's risk contribution, e.g. after a full exit.
func (s *State) ClearPositionRisk(ticket int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.risk, ticket)
}

// TotalPortfolioRiskPct returns the sum of all open positions' risk as a
// fraction of balance (§4.7).
func (s *State) TotalPortfolioRiskPct() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0.0
	for _, e := range s.risk {
		total += e.riskPct
	}
	return total
}

// PerSymbolRiskPct returns the aggregate risk already committed to one symbol.
func (s *State) PerSymbolRiskPct(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0.0
	for _, e := range s.risk {
		if e.symbol == symbol {
			total += e.riskPct
		}
	}
	return total
}

// Correlation returns the signed correlation of a candidate (symbol, side)
// against every currently open position, weighted by that position's risk
// share, clamped to [-1, 1]. A positive result means the candidate trade
// moves with existing exposure; side flips the sign relative to the
// calibrated same-direction coefficient (§4.7).
func (s *State) Correlation(symbol string, side types.Side) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.risk) == 0 {
		return 0
	}

	totalRisk := 0.0
	weighted := 0.0
	for _, e := range s.risk {
		coef := s.correlation.Lookup(symbol, e.symbol)
		if side != e.side {
			coef = -coef
		}
		weighted += coef * e.riskPct
		totalRisk += e.riskPct
	}
	if totalRisk == 0 {
		return 0
	}
	c := weighted / totalRisk
	if c > 1 {
		c = 1
	}
	if c < -1 {
		c = -1
	}
	return c
}

// RecordClosedTrade appends a realized trade result (profit as a fraction of
// its initial risk) to the rolling performance window.
func (s *State) RecordClosedTrade(profitPctOfRisk float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedPnL = append(s.closedPnL, profitPctOfRisk)
	if len(s.closedPnL) > s.window {
		s.closedPnL = s.closedPnL[len(s.closedPnL)-s.window:]
	}
}

// RollingWinRate returns the win rate over the last N closed trades (§4.5, §9).
func (s *State) RollingWinRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.closedPnL) == 0 {
		return 0.5 // neutral prior with no history
	}
	rate, _ := utils.CalculateWinRate(s.closedPnLDecimal()).Float64()
	return rate
}

// RollingProfitFactor returns gross-profit/gross-loss over the rolling
// window, capped at 3.0 rather than utils.CalculateProfitFactor's own cap so
// a loss-free window doesn't dominate the sizer's performance multiplier.
func (s *State) RollingProfitFactor() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.closedPnL) == 0 {
		return 1.0 // neutral prior with no history
	}
	pf, _ := utils.CalculateProfitFactor(s.closedPnLDecimal()).Float64()
	return utils.MinFloat(pf, 3.0)
}

// closedPnLDecimal converts the rolling window to decimal.Decimal for the
// shared win-rate/profit-factor helpers. Caller must hold s.mu.
func (s *State) closedPnLDecimal() []decimal.Decimal {
	out := make([]decimal.Decimal, len(s.closedPnL))
	for i, p := range s.closedPnL {
		out[i] = decimal.NewFromFloat(p)
	}
	return out
}
