// Package orchestrator implements the Request Orchestrator (§4.10, §5): the
// single decide() entry point that wires the Feature Engineer, Ensemble
// Predictor, EnhancedContext builder, Position Metadata Store, PortfolioState,
// Market Scorer, Entry Decider, Elite Position Sizer, Position Manager, and
// Funded-Account Guard into one serialized dispatch. Replaces the teacher's
// TradingOrchestrator (which coordinated backtesting/Monte Carlo/walk-forward
// machinery out of scope here) with a single-writer mutex discipline over the
// two pieces of mutable state, matching §5's scheduling model.
package orchestrator

import (
	stdcontext "context"
	"sync"
	"time"

	"github.com/quantedge/decision-engine/internal/config"
	enginectx "github.com/quantedge/decision-engine/internal/context"
	"github.com/quantedge/decision-engine/internal/ensemble"
	"github.com/quantedge/decision-engine/internal/entry"
	"github.com/quantedge/decision-engine/internal/events"
	"github.com/quantedge/decision-engine/internal/features"
	"github.com/quantedge/decision-engine/internal/guard"
	"github.com/quantedge/decision-engine/internal/metadata"
	"github.com/quantedge/decision-engine/internal/portfolio"
	"github.com/quantedge/decision-engine/internal/position"
	"github.com/quantedge/decision-engine/internal/regime"
	"github.com/quantedge/decision-engine/internal/scorer"
	"github.com/quantedge/decision-engine/internal/sizing"
	"github.com/quantedge/decision-engine/pkg/types"
	"github.com/quantedge/decision-engine/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine is the process-wide Request Orchestrator. Exactly one goroutine at
// a time mutates Metadata/Portfolio, serialized by mu (§5): the engine itself
// may be called concurrently, but Decide acquires mu for the full duration of
// a request, matching the spec's "coarse mutex" option over a FIFO queue.
type Engine struct {
	logger *zap.Logger
	cfg    config.EngineConfig

	mu       sync.Mutex
	Metadata *metadata.Store
	Portfolio *portfolio.State

	featureEngineer *features.Engineer
	predictor       *ensemble.Predictor
	regimeDetector  *regime.Detector
	guard           *guard.Guard
	scorer          *scorer.Scorer
	entryDecider    *entry.Decider
	sizer           *sizing.Sizer
	posManager      *position.Manager

	bus *events.EventBus // optional: diagnostics publish target (§4.10, §11)

	lastSnapshotTime map[string]int64
	lastRegime       map[string]types.Regime
}

// New builds the Request Orchestrator. predictor must already have its
// per-symbol artifacts loaded (§5: artifact loading is the only startup
// suspension point). bus is optional; when nil, diagnostics are not published.
func New(logger *zap.Logger, cfg config.EngineConfig, predictor *ensemble.Predictor, bus *events.EventBus) *Engine {
	logger = logger.Named("orchestrator")
	return &Engine{
		logger:           logger,
		cfg:              cfg,
		Metadata:         metadata.New(logger, cfg.MetadataPath),
		Portfolio:        portfolio.New(cfg),
		featureEngineer:  features.New(),
		predictor:        predictor,
		regimeDetector:   regime.New(regime.DefaultConfig()),
		guard:            guard.New(logger, cfg),
		scorer:           scorer.New(cfg.ScorerWeights),
		entryDecider:     entry.New(cfg),
		sizer:            sizing.New(cfg),
		posManager:       position.New(cfg),
		bus:              bus,
		lastSnapshotTime: make(map[string]int64),
		lastRegime:       make(map[string]types.Regime),
	}
}

// publish is a no-op when the engine was built without an event bus.
func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// Decide implements the full dispatch in §4.10, guarded by the soft deadline
// and single recover() boundary required by §5/§7.
func (e *Engine) Decide(ctx stdcontext.Context, snap *types.Snapshot) (reply types.Reply) {
	deadline := e.cfg.RequestDeadline
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	timed, cancel := stdcontext.WithTimeout(ctx, deadline)
	defer cancel()

	done := make(chan types.Reply, 1)
	go func() {
		done <- e.decideRecovered(snap)
	}()

	select {
	case reply = <-done:
		return reply
	case <-timed.Done():
		return types.NewHoldReply("timeout")
	}
}

// decideRecovered wraps decideLocked with the single panic boundary required
// by §7: any internal exception becomes a logged HOLD reply rather than a
// propagated panic.
func (e *Engine) decideRecovered(snap *types.Snapshot) (reply types.Reply) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("recovered from internal panic", zap.Any("panic", r))
			reply = types.NewHoldReply("internal error")
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()
	reply = e.decideLocked(snap)
	if snap != nil {
		var side string
		var lots float64
		if reply.Lots != nil {
			lots = *reply.Lots
		}
		side = string(reply.Side)
		e.publish(events.NewDecisionEvent(snap.Symbol, reply.Action.String(), side, lots, reply.Reason, reply.Confidence))
	}
	return reply
}

func (e *Engine) decideLocked(snap *types.Snapshot) types.Reply {
	if snap == nil || snap.Symbol == "" {
		return types.NewHoldReply("bad snapshot")
	}

	canonical, ok := utils.CanonicalizeSymbol(snap.Symbol)
	if !ok {
		return types.NewHoldReply("unknown symbol")
	}
	snap.Symbol = canonical

	readOnly := e.isOutOfOrder(canonical, snap.SnapshotTime)

	now := snapshotTimeOrNow(snap.SnapshotTime)
	if snap.MarketClosed || !e.guard.MarketOpen(now) {
		return types.NewHoldReply("market closed")
	}

	verdict := e.guard.Evaluate(snap.Account)

	fv := e.featureEngineer.Compute(snap)
	if fv.Degraded() {
		return types.NewHoldReply("degraded")
	}
	pred := e.predictor.Predict(canonical, fv)
	ectx := enginectx.Build(snap, fv, pred, e.regimeDetector)

	if prior, ok := e.lastRegime[canonical]; !ok || prior != ectx.Regime {
		if ok {
			e.publish(events.NewRegimeChangeEvent(canonical, string(prior), string(ectx.Regime)))
		}
		e.lastRegime[canonical] = ectx.Regime
	}

	if !readOnly {
		_ = e.Metadata.Upsert(snap.Positions, now)
		_ = e.Metadata.Reconcile(snap.Positions, snap.RecentTrades)
	}

	if !verdict.CanTrade && len(ectx.Positions) == 0 {
		e.publish(events.NewAccountGuardEvent(verdict.Reason, ectx.DistanceDaily, ectx.DistanceDD))
		return types.NewHoldReply("account guard")
	}

	if len(ectx.Positions) > 0 {
		if !verdict.CanTrade {
			e.publish(events.NewAccountGuardEvent(verdict.Reason, ectx.DistanceDaily, ectx.DistanceDD))
		}
		return e.managePositions(ectx, snap, now, readOnly, verdict.CanTrade)
	}

	if !verdict.CanTrade {
		e.publish(events.NewAccountGuardEvent(verdict.Reason, ectx.DistanceDaily, ectx.DistanceDD))
		return types.NewHoldReply("account guard")
	}

	heat := e.Portfolio.TotalPortfolioRiskPct()
	if heat >= e.cfg.FundedAccountLimits.PortfolioHeatCeiling {
		return types.NewHoldReply("portfolio heat")
	}

	return e.considerEntry(ectx, snap, verdict, heat, readOnly)
}

// managePositions runs the Position Manager for every open position on this
// symbol concurrently and returns the highest-priority action (§4.10 step
// 6). Metadata and Portfolio are already serialized behind their own
// mutexes, so fanning the per-position evaluation out across goroutines is
// safe under the orchestrator's coarser request-level lock. canTrade is the
// Funded-Account Guard's verdict for this request: when false, the Position
// Manager is barred from approving SCALE_IN/DCA (§8 invariant 8), leaving
// only exit-only actions available.
func (e *Engine) managePositions(ectx *enginectx.Context, snap *types.Snapshot, now time.Time, readOnly, canTrade bool) types.Reply {
	market := e.scorer.Score(ectx, firstPositionSide(ectx.Positions))

	decisions := make([]position.Decision, len(ectx.Positions))
	var g errgroup.Group
	for i, p := range ectx.Positions {
		i, p := i, p
		g.Go(func() error {
			decisions[i] = e.posManager.Evaluate(ectx, p, e.Metadata, e.Portfolio, market, now, readOnly, canTrade)
			return nil
		})
	}
	_ = g.Wait()

	var best position.Decision
	var bestTicket int64
	for i, p := range ectx.Positions {
		d := decisions[i]
		if d.Action.Priority() > best.Action.Priority() {
			best = d
			bestTicket = p.Ticket
		}
	}

	if best.Action == types.ActionHold {
		return types.NewHoldReply("no management action")
	}

	if !readOnly && best.Action == types.ActionClose {
		e.Portfolio.RecordClosedTrade(best.PnLOfRisk)
		e.Portfolio.ClearPositionRisk(bestTicket)
	}

	switch best.Action {
	case types.ActionScaleIn:
		return types.NewScaleInReply(best.Lots, best.Reason, ectx.MLConfidence)
	case types.ActionDCA:
		return types.NewDCAReply(best.Lots, best.Reason, ectx.MLConfidence)
	case types.ActionScaleOut:
		return types.NewScaleOutReply(best.Lots, best.Reason, ectx.MLConfidence)
	case types.ActionClose:
		return types.NewCloseReply(best.Reason, ectx.MLConfidence)
	default:
		return types.NewHoldReply("no management action")
	}
}

// considerEntry runs Market Scorer -> Entry Decider -> Elite Sizer -> Funded
// Guard cap for a symbol with no open positions (§4.10 step 7).
func (e *Engine) considerEntry(ectx *enginectx.Context, snap *types.Snapshot, verdict guard.Verdict, currentHeat float64, readOnly bool) types.Reply {
	if ectx.MLHold {
		return types.NewHoldReply("no ml direction")
	}

	market := e.scorer.Score(ectx, ectx.MLDirection)

	tickSize, _ := snap.SymbolInfo.TickSize.Float64()
	minStopTicks := 10.0
	stopPrice := sizing.Stop(ectx, ectx.MLDirection, tickSize, minStopTicks)
	if !snap.SymbolInfo.TickSize.IsZero() {
		rounded, _ := utils.RoundToTickSize(decimal.NewFromFloat(stopPrice), snap.SymbolInfo.TickSize).Float64()
		stopPrice = rounded
	}

	addedHeat := e.cfg.SizingBounds.BaseRiskPct
	decision := entry.Decide(e.entryDecider, ectx, market, true, verdict.CanTrade, currentHeat, addedHeat)
	if !decision.Approve {
		return types.NewHoldReply(decision.Reason)
	}

	minLot, _ := snap.SymbolInfo.MinLot.Float64()
	lotStep, _ := snap.SymbolInfo.LotStep.Float64()
	tickValue, _ := snap.SymbolInfo.TickValue.Float64()

	sizeResult := e.sizer.Size(ectx, sizing.Request{
		Side:                decision.Side,
		Quality:             decision.Quality,
		EntryPrice:          ectx.CurrentPrice,
		StopPrice:           stopPrice,
		TickSize:            tickSize,
		TickValue:           tickValue,
		MinLot:              minLot,
		LotStep:             lotStep,
		RollingWinRate:      e.Portfolio.RollingWinRate(),
		RollingProfitFactor: e.Portfolio.RollingProfitFactor(),
		Correlation:         e.Portfolio.Correlation(ectx.Symbol, decision.Side),
		VolatilityZ:         ectx.VolatilityZ,
	})
	if !sizeResult.ShouldTrade {
		return types.NewHoldReply("sizing rejected")
	}

	riskDollars := sizeResult.RiskDollars
	if cap, _ := verdict.MaxRiskDollars.Float64(); cap > 0 && riskDollars > cap {
		riskDollars = cap
		if riskPerLot := tickValue * (stopDistance(ectx.CurrentPrice, stopPrice) / tickSize); riskPerLot > 0 {
			sizeResult.Lots = riskDollars / riskPerLot
		}
	}

	if !readOnly {
		e.Portfolio.SetPositionRisk(pendingTicketKey(snap, ectx.Symbol), ectx.Symbol, decision.Side, riskDollars/balanceOrOne(snap))
	}

	reply := types.NewEntryReply(decision.Side, sizeResult.Lots, stopPrice, "entry approved", ectx.MLConfidence)
	reply.Components = market.Components
	return reply
}

func stopDistance(entry, stop float64) float64 {
	if entry > stop {
		return entry - stop
	}
	return stop - entry
}

func balanceOrOne(snap *types.Snapshot) float64 {
	if b, _ := snap.Account.Balance.Float64(); b > 0 {
		return b
	}
	return 1
}

// pendingTicketKey synthesizes a placeholder risk-tracking key for a trade
// not yet confirmed by the broker; the next snapshot's positions[] replaces
// it with the real ticket via Upsert.
func pendingTicketKey(snap *types.Snapshot, symbol string) int64 {
	return -(snap.SnapshotTime*31 + int64(len(symbol)))
}

func firstPositionSide(positions []types.Position) types.Side {
	if len(positions) == 0 {
		return types.SideBuy
	}
	return positions[0].Type
}

func snapshotTimeOrNow(unixSeconds int64) time.Time {
	if unixSeconds == 0 {
		return time.Now().UTC()
	}
	return time.Unix(unixSeconds, 0).UTC()
}

// isOutOfOrder implements §5's ordering guarantee: a snapshot older than the
// latest processed one for this symbol is computed read-only.
func (e *Engine) isOutOfOrder(symbol string, snapshotTime int64) bool {
	if snapshotTime == 0 {
		return false
	}
	last, ok := e.lastSnapshotTime[symbol]
	if ok && snapshotTime < last {
		return true
	}
	e.lastSnapshotTime[symbol] = snapshotTime
	return false
}
