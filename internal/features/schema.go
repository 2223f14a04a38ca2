// Package features implements the Feature Engineer: (snapshot) -> fixed-
// length, fixed-order FeatureVector (§4.1). Grounded in the teacher's
// internal/data/quality.go (missing/degraded-bar detection) and
// internal/signals/parser.go-style field extraction, generalized from
// ad-hoc signal parsing into a compile-time feature schema so the predictor
// can be handed a stable, ordered vector every request.
package features

import "github.com/quantedge/decision-engine/pkg/types"

// perTimeframeNames is computed once per timeframe in the engine's fixed
// Timeframes order (§3). Each name below becomes "<tf>.<name>" in the schema.
var perTimeframeNames = []string{
	"return_1",
	"return_5",
	"return_10",
	"return_20",
	"high_low_ratio",
	"close_position_in_range",
	"trend",
	"volatility",
	"rsi_raw",
	"rsi_alignment",
	"macd_hist_raw",
	"macd_alignment",
	"stoch_k",
	"stoch_d",
	"bollinger_position",
	"ema_distance",
	"volume_ratio",
	"volume_spike",
	"tf_missing",
}

// globalNames are the cross-timeframe derived and account/position features
// appended after the per-timeframe block.
var globalNames = []string{
	"trend_alignment",
	"accumulation_distribution",
	"bid_ask_pressure",
	"atr_h1_norm",
	"atr_h4_norm",
	"atr_d1_norm",
	"atr_m15_norm",
	"has_position",
	"position_side",
	"position_profit_pct",
	"position_age_norm",
	"daily_loss_used_pct",
	"drawdown_used_pct",
	"equity_vs_balance",
	"order_book_bid_pressure",
	"order_book_ask_pressure",
	"large_player_bars_h1",
	"large_player_bars_h4",
	"institutional_accum_flag",
	"institutional_distrib_flag",
	"round_number_confluence",
	"pivot_confluence",
	"support_resistance_proximity",
	"daily_drift_sign",
	"session_hour_norm",
	"day_of_week_norm",
	"spread_proxy",
	"tick_value_norm",
	"contract_size_norm",
	"min_lot_norm",
	"symbol_class_forex",
	"symbol_class_indices",
	"symbol_class_commodities",
	"daily_pnl_ratio",
	"recent_trades_avg_profit_sign",
	"position_count_norm",
	"lot_step_norm",
}

// Schema is the compile-time-fixed, ordered list of feature names. Its
// length is F (§2, §3, §8 invariant 1).
var Schema = buildSchema()

func buildSchema() []string {
	names := make([]string, 0, len(perTimeframeNames)*len(types.Timeframes)+len(globalNames))
	for _, tf := range types.Timeframes {
		for _, n := range perTimeframeNames {
			names = append(names, string(tf)+"."+n)
		}
	}
	names = append(names, globalNames...)
	return names
}

// F is the fixed feature-vector length the schema produces.
var F = len(Schema)

var index = buildIndex()

func buildIndex() map[string]int {
	m := make(map[string]int, len(Schema))
	for i, n := range Schema {
		m[n] = i
	}
	return m
}
