// Package types holds the domain model shared across every decision-engine
// component: the inbound snapshot, account and position shapes, and the
// outbound reply. Money-denominated fields use decimal.Decimal; feature,
// score, and probability fields elsewhere in the engine stay float64.
package types

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Side is a position or trade direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Timeframe names a bar aggregation window. Order matters: it is the
// canonical iteration order used by the feature schema.
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

// Timeframes is the fixed, ordered set of timeframes the snapshot may carry.
var Timeframes = []Timeframe{M1, M5, M15, M30, H1, H4, D1}

// Bar is one OHLCV candle. Snapshots order bars newest-first.
type Bar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Account carries the funded-account balance and loss-envelope state.
type Account struct {
	Balance          decimal.Decimal `json:"balance"`
	Equity           decimal.Decimal `json:"equity"`
	DailyPnL         decimal.Decimal `json:"daily_pnl"`
	DailyStartBal    decimal.Decimal `json:"daily_start_balance"`
	PeakBalance      decimal.Decimal `json:"peak_balance"`
	MaxDailyLoss     decimal.Decimal `json:"max_daily_loss"`
	MaxTotalDrawdown decimal.Decimal `json:"max_total_drawdown"`
}

// SymbolInfo carries contract/lot metadata used for lot and risk arithmetic.
type SymbolInfo struct {
	ContractSize decimal.Decimal `json:"contract_size"`
	TickSize     decimal.Decimal `json:"tick_size"`
	TickValue    decimal.Decimal `json:"tick_value"`
	MinLot       decimal.Decimal `json:"min_lot"`
	MaxLot       decimal.Decimal `json:"max_lot"`
	LotStep      decimal.Decimal `json:"lot_step"`
}

// Position is a broker-reported open position, on any symbol.
type Position struct {
	Ticket      int64           `json:"ticket"`
	Symbol      string          `json:"symbol"`
	Type        Side            `json:"type"`
	Volume      decimal.Decimal `json:"volume"`
	PriceOpen   decimal.Decimal `json:"price_open"`
	PriceCurr   decimal.Decimal `json:"price_current"`
	SL          decimal.Decimal `json:"sl"`
	TP          decimal.Decimal `json:"tp"`
	Profit      decimal.Decimal `json:"profit"`
	Time        int64           `json:"time"`
	AgeMinutes  float64         `json:"age_minutes"`
}

// RecentTrade is a recently-closed trade, used only for metadata reconciliation.
type RecentTrade struct {
	Ticket int64           `json:"ticket"`
	Profit decimal.Decimal `json:"profit"`
	Volume decimal.Decimal `json:"volume"`
}

// OrderBook carries optional bid/ask pressure scalars.
type OrderBook struct {
	BidPressure float64 `json:"bid_pressure"`
	AskPressure float64 `json:"ask_pressure"`
}

// Snapshot is the engine's sole input: live market state plus account state
// for one broker symbol, as posted by the adapter on each tick.
type Snapshot struct {
	Symbol       string                  `json:"symbol"`
	CurrentPrice decimal.Decimal         `json:"current_price"`
	SnapshotTime int64                   `json:"snapshot_time"`
	MarketClosed bool                    `json:"market_closed"`
	Account      Account                 `json:"account"`
	SymbolInfo   SymbolInfo              `json:"symbol_info"`
	Timeframes   map[Timeframe][]Bar     `json:"timeframes"`
	Indicators   map[string]float64      `json:"indicators"`
	Positions    []Position              `json:"positions"`
	RecentTrades []RecentTrade           `json:"recent_trades"`
	OrderBook    *OrderBook              `json:"order_book,omitempty"`
}

// Action is the tagged-variant replacement for dynamic string dispatch on
// action labels (see design notes): exactly one constructor below produces a
// well-formed Action, and only the boundary (Reply) serializes it to JSON.
type Action int

const (
	ActionHold Action = iota
	ActionBuy
	ActionSell
	ActionClose
	ActionScaleIn
	ActionScaleOut
	ActionDCA
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "BUY"
	case ActionSell:
		return "SELL"
	case ActionClose:
		return "CLOSE"
	case ActionScaleIn:
		return "SCALE_IN"
	case ActionScaleOut:
		return "SCALE_OUT"
	case ActionDCA:
		return "DCA"
	default:
		return "HOLD"
	}
}

// MarshalJSON renders an Action as its wire string ("BUY", "HOLD", ...)
// rather than its underlying int, per Reply's JSON contract.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts the wire string form produced by MarshalJSON.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "BUY":
		*a = ActionBuy
	case "SELL":
		*a = ActionSell
	case "CLOSE":
		*a = ActionClose
	case "SCALE_IN":
		*a = ActionScaleIn
	case "SCALE_OUT":
		*a = ActionScaleOut
	case "DCA":
		*a = ActionDCA
	default:
		*a = ActionHold
	}
	return nil
}

// Priority ranks position-management actions for the orchestrator's
// highest-priority-wins rule: CLOSE > SCALE_OUT > DCA > SCALE_IN > HOLD.
func (a Action) Priority() int {
	switch a {
	case ActionClose:
		return 5
	case ActionScaleOut:
		return 4
	case ActionDCA:
		return 3
	case ActionScaleIn:
		return 2
	default:
		return 0
	}
}

// Reply is the JSON-serializable decision returned to the adapter. Optional
// fields are present only for the actions that require them (§6, §8).
type Reply struct {
	Action       Action   `json:"action"`
	Side         Side     `json:"side,omitempty"`
	Lots         *float64 `json:"lots,omitempty"`
	AddLots      *float64 `json:"add_lots,omitempty"`
	ReduceLots   *float64 `json:"reduce_lots,omitempty"`
	StopLoss     *float64 `json:"stop_loss,omitempty"`
	TakeProfit   *float64 `json:"take_profit,omitempty"`
	Reason       string   `json:"reason"`
	Confidence   float64  `json:"confidence"`
	Components   map[string]float64 `json:"components,omitempty"`
	ExpectedReturn *float64 `json:"expected_return,omitempty"`
	Correlation    *float64 `json:"correlation,omitempty"`
	TraceID      string   `json:"trace_id,omitempty"`
}

func zeroTP() *float64 {
	z := 0.0
	return &z
}

// NewHoldReply builds a {action: HOLD, reason} reply with no optional fields.
func NewHoldReply(reason string) Reply {
	return Reply{Action: ActionHold, Reason: reason}
}

// NewEntryReply builds a BUY/SELL reply; take_profit is always 0 per §4.5.
func NewEntryReply(side Side, lots, stopLoss float64, reason string, confidence float64) Reply {
	l, sl := lots, stopLoss
	return Reply{
		Action:     map[Side]Action{SideBuy: ActionBuy, SideSell: ActionSell}[side],
		Side:       side,
		Lots:       &l,
		StopLoss:   &sl,
		TakeProfit: zeroTP(),
		Reason:     reason,
		Confidence: confidence,
	}
}

// NewScaleInReply builds a SCALE_IN (pyramid) reply.
func NewScaleInReply(addLots float64, reason string, confidence float64) Reply {
	l := addLots
	return Reply{Action: ActionScaleIn, AddLots: &l, Reason: reason, Confidence: confidence}
}

// NewDCAReply builds a DCA reply.
func NewDCAReply(addLots float64, reason string, confidence float64) Reply {
	l := addLots
	return Reply{Action: ActionDCA, AddLots: &l, Reason: reason, Confidence: confidence}
}

// NewScaleOutReply builds a SCALE_OUT (partial exit) reply.
func NewScaleOutReply(reduceLots float64, reason string, confidence float64) Reply {
	l := reduceLots
	return Reply{Action: ActionScaleOut, ReduceLots: &l, Reason: reason, Confidence: confidence}
}

// NewCloseReply builds a full-exit CLOSE reply.
func NewCloseReply(reason string, confidence float64) Reply {
	return Reply{Action: ActionClose, Reason: reason, Confidence: confidence}
}

// Regime is the coarse market-state label used as a multiplier throughout
// sizing and position management.
type Regime string

const (
	RegimeTrendingUp   Regime = "TRENDING_UP"
	RegimeTrendingDown Regime = "TRENDING_DOWN"
	RegimeRanging      Regime = "RANGING"
	RegimeVolatile     Regime = "VOLATILE"
)

// Multiplier returns the regime's expected-return multiplier (§4.5).
func (r Regime) Multiplier() float64 {
	switch r {
	case RegimeTrendingUp, RegimeTrendingDown:
		return 1.2
	case RegimeRanging:
		return 0.8
	case RegimeVolatile:
		return 0.6
	default:
		return 1.0
	}
}
