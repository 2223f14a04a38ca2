package features

import (
	"fmt"
	"math"

	"github.com/quantedge/decision-engine/pkg/types"
	"github.com/quantedge/decision-engine/pkg/utils"
)

const (
	minBarsRequired = 50
	trendWindowFast = 20
	trendWindowSlow = 50
	volWindow       = 20
	volumeWindow    = 20
)

// Vector is the fixed-length, fixed-order FeatureVector (§3) plus named
// accessors for the raw per-timeframe quantities downstream components need
// directly (ATR in price units, H1 structure levels) without re-deriving
// them from the 170-length float slice.
type Vector struct {
	values   []float64
	raw      map[string]float64
	degraded bool
	tfMissing map[types.Timeframe]bool
}

// Values returns the fixed-order feature slice, length F.
func (v *Vector) Values() []float64 { return v.values }

// Degraded reports whether the snapshot had insufficient bar data anywhere
// material enough that downstream gates should force HOLD (§4.1, §8).
func (v *Vector) Degraded() bool { return v.degraded }

// Get returns a named schema feature. It panics on an unknown name, since
// the schema is a compile-time constant — an unknown name is a programming
// error, not a runtime condition.
func (v *Vector) Get(name string) float64 {
	i, ok := index[name]
	if !ok {
		panic(fmt.Sprintf("features: unknown schema name %q", name))
	}
	return v.values[i]
}

// Lookup returns a named schema feature without panicking, for callers (the
// Ensemble Predictor) that must tolerate feature-name drift between a
// trained artifact's expected names and the engine's current schema (§4.2, §9).
func (v *Vector) Lookup(name string) (float64, bool) {
	i, ok := index[name]
	if !ok {
		return 0, false
	}
	return v.values[i], true
}

// Trend returns the trend-from-bars value for a timeframe, in [0,1].
func (v *Vector) Trend(tf types.Timeframe) float64 {
	return v.Get(string(tf) + ".trend")
}

// TimeframeMissing reports whether a timeframe had fewer than 50 bars.
func (v *Vector) TimeframeMissing(tf types.Timeframe) bool {
	return v.tfMissing[tf]
}

// ATR returns the raw (price-unit) ATR for a timeframe, or 0 if absent.
func (v *Vector) ATR(tf types.Timeframe) float64 {
	return v.raw["atr."+string(tf)]
}

// SupportResistance returns the nearest H1 support and resistance levels
// used by structure scoring and distance-to-target math.
func (v *Vector) SupportResistance() (support, resistance float64) {
	return v.raw["h1_support"], v.raw["h1_resistance"]
}

// Engineer computes FeatureVectors from snapshots.
type Engineer struct{}

// New builds a Feature Engineer. It holds no state: every computation is a
// pure function of the snapshot it is given.
func New() *Engineer {
	return &Engineer{}
}

// Compute maps a snapshot to its FeatureVector (§4.1). On a malformed or bar-
// starved snapshot it returns a neutral vector with Degraded() true; callers
// must treat a degraded context as HOLD (§4.1 failure modes, §8).
func (e *Engineer) Compute(snap *types.Snapshot) *Vector {
	v := &Vector{
		values:    neutralVector(),
		raw:       make(map[string]float64),
		tfMissing: make(map[types.Timeframe]bool),
	}

	anyUsable := false
	for _, tf := range types.Timeframes {
		bars := snap.Timeframes[tf]
		usable := len(bars) >= minBarsRequired
		if usable {
			anyUsable = true
		}
		v.tfMissing[tf] = !usable
		e.computeTimeframe(v, snap, tf, bars, usable)
	}
	if !anyUsable {
		v.degraded = true
	}

	e.computeGlobals(v, snap)
	return v
}

func neutralVector() []float64 {
	vals := make([]float64, F)
	for i, name := range Schema {
		vals[i] = neutralDefault(name)
	}
	return vals
}

// neutralDefault returns the schema-defined neutral value for a feature name
// when its input is missing (§3 FeatureVector, §4.1 failure modes).
func neutralDefault(name string) float64 {
	switch {
	case hasSuffix(name, ".trend"):
		return 0.5
	case hasSuffix(name, ".rsi_alignment"), hasSuffix(name, ".macd_alignment"):
		return 0.5
	case hasSuffix(name, ".bollinger_position"), hasSuffix(name, ".close_position_in_range"):
		return 0.5
	case hasSuffix(name, ".stoch_k"), hasSuffix(name, ".stoch_d"):
		return 0.5
	case hasSuffix(name, ".rsi_raw"):
		return 50
	case hasSuffix(name, ".tf_missing"):
		return 1.0
	case name == "trend_alignment":
		return 0.5
	default:
		return 0
	}
}

func hasSuffix(s, suffix string) bool {
	if len(s) < len(suffix) {
		return false
	}
	return s[len(s)-len(suffix):] == suffix
}

func (e *Engineer) computeTimeframe(v *Vector, snap *types.Snapshot, tf types.Timeframe, bars []types.Bar, usable bool) {
	prefix := string(tf) + "."
	if !usable {
		return // leave schema-neutral defaults in place
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	c0 := closes[0]
	set := func(name string, val float64) { v.values[index[prefix+name]] = val }

	set("return_1", returnOverN(closes, 1))
	set("return_5", returnOverN(closes, 5))
	set("return_10", returnOverN(closes, 10))
	set("return_20", returnOverN(closes, 20))

	latest := bars[0]
	hlRange := latest.High - latest.Low
	if hlRange > 0 {
		set("high_low_ratio", hlRange/latest.Close)
		set("close_position_in_range", (latest.Close-latest.Low)/hlRange)
	} else {
		set("high_low_ratio", 0)
		set("close_position_in_range", 0.5)
	}

	trend := trendFromBars(closes, c0)
	set("trend", trend)

	set("volatility", stdDev(returnsSeries(closes, volWindow)))

	key := func(name string) string { return string(tf) + "_" + name }
	rsi, haveRSI := snap.Indicators[key("rsi")]
	if !haveRSI {
		rsi = 50
	}
	set("rsi_raw", rsi)
	set("rsi_alignment", alignmentFlag(rsi-50, 5))

	macdHist := snap.Indicators[key("macd_hist")]
	set("macd_hist_raw", macdHist)
	set("macd_alignment", alignmentFlag(macdHist, 0.0001))

	stochK, haveK := snap.Indicators[key("stoch_k")]
	if !haveK {
		stochK = 50
	}
	stochD, haveD := snap.Indicators[key("stoch_d")]
	if !haveD {
		stochD = 50
	}
	set("stoch_k", stochK/100)
	set("stoch_d", stochD/100)

	if bb, ok := snap.Indicators[key("bb_position")]; ok {
		set("bollinger_position", clamp01(bb))
	}
	if ema, ok := snap.Indicators[key("ema_distance")]; ok {
		set("ema_distance", ema)
	}

	volRatio := volumeRatio(bars, volumeWindow)
	set("volume_ratio", volRatio)
	set("volume_spike", clamp01((volRatio-1.0)/2.0))

	set("tf_missing", 0)

	if atr, ok := snap.Indicators[key("atr")]; ok {
		v.raw["atr."+string(tf)] = atr
	}
	if tf == types.H1 {
		if sr, ok := snap.Indicators["h1_support"]; ok {
			v.raw["h1_support"] = sr
		}
		if rr, ok := snap.Indicators["h1_resistance"]; ok {
			v.raw["h1_resistance"] = rr
		}
	}
}

func (e *Engineer) computeGlobals(v *Vector, snap *types.Snapshot) {
	set := func(name string, val float64) { v.values[index[name]] = val }

	alignment := trendAlignment(v)
	set("trend_alignment", alignment)

	h1 := v.Trend(types.H1)
	volRatioH1 := v.Get("H1.volume_ratio")
	dailyDrift := 0.0
	if bars := snap.Timeframes[types.D1]; len(bars) >= 2 {
		if bars[1].Close != 0 {
			dailyDrift = (bars[0].Close - bars[1].Close) / bars[1].Close
		}
	}
	driftSign := 0.0
	if dailyDrift > 0 {
		driftSign = 1
	} else if dailyDrift < 0 {
		driftSign = -1
	}
	set("daily_drift_sign", driftSign)
	closePosH1 := v.Get("H1.close_position_in_range")
	set("accumulation_distribution", (closePosH1-0.5)*volRatioH1*driftSign)

	if snap.OrderBook != nil {
		set("bid_ask_pressure", snap.OrderBook.BidPressure-snap.OrderBook.AskPressure)
		set("order_book_bid_pressure", snap.OrderBook.BidPressure)
		set("order_book_ask_pressure", snap.OrderBook.AskPressure)
	} else {
		// Derived fallback: close-position x volume ratio, complemented (§4.1).
		pressure := closePosH1 * volRatioH1
		set("bid_ask_pressure", pressure-(1-pressure))
		set("order_book_bid_pressure", pressure)
		set("order_book_ask_pressure", 1-pressure)
	}

	for tf, normName := range map[types.Timeframe]string{
		types.H1: "atr_h1_norm", types.H4: "atr_h4_norm",
		types.D1: "atr_d1_norm", types.M15: "atr_m15_norm",
	} {
		atr := v.raw["atr."+string(tf)]
		closes := snap.Timeframes[tf]
		if atr > 0 && len(closes) > 0 && closes[0].Close != 0 {
			set(normName, atr/closes[0].Close)
		}
	}

	hasPosition := 0.0
	posSide := 0.0
	profitPct := 0.0
	ageNorm := 0.0
	for _, p := range snap.Positions {
		if p.Symbol == snap.Symbol {
			hasPosition = 1
			if p.Type == types.SideBuy {
				posSide = 1
			} else {
				posSide = -1
			}
			risk, _ := p.PriceOpen.Sub(p.SL).Abs().Float64()
			profit, _ := p.Profit.Float64()
			if risk > 0 {
				profitPct = profit / risk
			}
			ageNorm = clamp01(p.AgeMinutes / (24 * 60))
			break
		}
	}
	set("has_position", hasPosition)
	set("position_side", posSide)
	set("position_profit_pct", profitPct)
	set("position_age_norm", ageNorm)

	acct := snap.Account
	dailyLossUsed := 0.0
	if acct.MaxDailyLoss.IsPositive() {
		used := acct.DailyStartBal.Sub(acct.Equity)
		f, _ := used.Div(acct.MaxDailyLoss).Float64()
		dailyLossUsed = clamp01(f)
	}
	set("daily_loss_used_pct", dailyLossUsed)

	ddUsed := 0.0
	if acct.MaxTotalDrawdown.IsPositive() {
		used := acct.PeakBalance.Sub(acct.Equity)
		f, _ := used.Div(acct.MaxTotalDrawdown).Float64()
		ddUsed = clamp01(f)
	}
	set("drawdown_used_pct", ddUsed)

	if acct.Balance.IsPositive() {
		f, _ := acct.Equity.Div(acct.Balance).Float64()
		set("equity_vs_balance", f)
	} else {
		set("equity_vs_balance", 1)
	}

	set("large_player_bars_h1", largePlayerBarFraction(snap.Timeframes[types.H1]))
	set("large_player_bars_h4", largePlayerBarFraction(snap.Timeframes[types.H4]))

	accumFlag, distribFlag := 0.0, 0.0
	if v.Get("accumulation_distribution") > 0.15 {
		accumFlag = 1
	} else if v.Get("accumulation_distribution") < -0.15 {
		distribFlag = 1
	}
	set("institutional_accum_flag", accumFlag)
	set("institutional_distrib_flag", distribFlag)

	set("round_number_confluence", roundNumberConfluence(snap.CurrentPrice.InexactFloat64()))
	support, resistance := v.SupportResistance()
	set("pivot_confluence", pivotConfluence(snap.CurrentPrice.InexactFloat64(), support, resistance))
	set("support_resistance_proximity", structureProximity(snap.CurrentPrice.InexactFloat64(), support, resistance))

	set("session_hour_norm", sessionHourNorm(snap.SnapshotTime))
	set("day_of_week_norm", dayOfWeekNorm(snap.SnapshotTime))

	if snap.SymbolInfo.TickSize.IsPositive() {
		spread, _ := snap.SymbolInfo.TickSize.Float64()
		set("spread_proxy", spread)
	}
	tickValue, _ := snap.SymbolInfo.TickValue.Float64()
	set("tick_value_norm", tickValue)
	contractSize, _ := snap.SymbolInfo.ContractSize.Float64()
	set("contract_size_norm", contractSize)
	minLot, _ := snap.SymbolInfo.MinLot.Float64()
	set("min_lot_norm", minLot)

	switch utils.ClassOfSymbol(snap.Symbol) {
	case utils.SymbolClassForex:
		set("symbol_class_forex", 1)
	case utils.SymbolClassIndices:
		set("symbol_class_indices", 1)
	case utils.SymbolClassCommodities:
		set("symbol_class_commodities", 1)
	}

	if acct.Balance.IsPositive() {
		f, _ := acct.DailyPnL.Div(acct.Balance).Float64()
		set("daily_pnl_ratio", f)
	}

	if len(snap.RecentTrades) > 0 {
		sum := 0.0
		for _, t := range snap.RecentTrades {
			f, _ := t.Profit.Float64()
			sum += f
		}
		avg := sum / float64(len(snap.RecentTrades))
		sign := 0.0
		if avg > 0 {
			sign = 1
		} else if avg < 0 {
			sign = -1
		}
		set("recent_trades_avg_profit_sign", sign)
	}

	set("position_count_norm", clamp01(float64(len(snap.Positions))/10.0))

	lotStep, _ := snap.SymbolInfo.LotStep.Float64()
	set("lot_step_norm", lotStep)

	_ = h1
}

func returnOverN(closes []float64, n int) float64 {
	if len(closes) <= n || closes[n] == 0 {
		return 0
	}
	return (closes[0] - closes[n]) / closes[n]
}

func trendFromBars(closes []float64, c0 float64) float64 {
	smaFast := meanOf(closes, trendWindowFast)
	smaSlow := meanOf(closes, trendWindowSlow)
	if smaFast == 0 || smaSlow == 0 {
		return 0.5
	}
	vsFast := 100 * (c0 - smaFast) / smaFast
	vsSlow := 100 * (c0 - smaSlow) / smaSlow
	avg := (vsFast + vsSlow) / 2
	return clamp01(0.5 + avg/10)
}

func meanOf(closes []float64, k int) float64 {
	n := k
	if n > len(closes) {
		n = len(closes)
	}
	if n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += closes[i]
	}
	return sum / float64(n)
}

func returnsSeries(closes []float64, window int) []float64 {
	n := window
	if n > len(closes)-1 {
		n = len(closes) - 1
	}
	if n <= 0 {
		return nil
	}
	rets := make([]float64, n)
	for i := 0; i < n; i++ {
		if closes[i+1] == 0 {
			continue
		}
		rets[i] = (closes[i] - closes[i+1]) / closes[i+1]
	}
	return rets
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

func volumeRatio(bars []types.Bar, window int) float64 {
	n := window
	if n > len(bars)-1 {
		n = len(bars) - 1
	}
	if n <= 0 {
		return 1
	}
	sum := 0.0
	for i := 1; i <= n; i++ {
		sum += bars[i].Volume
	}
	mean := sum / float64(n)
	if mean == 0 {
		return 1
	}
	return bars[0].Volume / mean
}

func largePlayerBarFraction(bars []types.Bar) float64 {
	if len(bars) < 2 {
		return 0
	}
	lookback := 20
	if lookback > len(bars) {
		lookback = len(bars)
	}
	sum := 0.0
	for i := 0; i < lookback; i++ {
		sum += bars[i].Volume
	}
	mean := sum / float64(lookback)
	if mean == 0 {
		return 0
	}
	large := 0
	for i := 0; i < lookback; i++ {
		if bars[i].Volume > mean*1.75 {
			large++
		}
	}
	return float64(large) / float64(lookback)
}

// alignmentFlag maps a signed deviation to a 0/0.5/1 flag: bullish (1),
// neutral (0.5), bearish (0), matching the "alignment flags" the spec asks
// for rather than a continuous indicator value.
func alignmentFlag(deviation, epsilon float64) float64 {
	if deviation > epsilon {
		return 1
	}
	if deviation < -epsilon {
		return 0
	}
	return 0.5
}

func trendAlignment(v *Vector) float64 {
	tfs := []types.Timeframe{types.H1, types.H4, types.D1}
	agree := 0
	for _, tf := range tfs {
		if v.Trend(tf) > 0.5 {
			agree++
		} else if v.Trend(tf) < 0.5 {
			agree--
		}
	}
	// Map [-3,3] agreement to [0,1], 0.5 = no consensus.
	return clamp01(0.5 + float64(agree)/6)
}

func roundNumberConfluence(price float64) float64 {
	if price == 0 {
		return 0
	}
	frac := math.Mod(price, 1.0)
	distToRound := math.Min(frac, 1-frac)
	return clamp01(1 - distToRound*10)
}

func pivotConfluence(price, support, resistance float64) float64 {
	if support == 0 && resistance == 0 {
		return 0
	}
	mid := (support + resistance) / 2
	span := resistance - support
	if span <= 0 {
		return 0
	}
	return clamp01(1 - math.Abs(price-mid)/(span/2))
}

func structureProximity(price, support, resistance float64) float64 {
	if support == 0 && resistance == 0 {
		return 0.5
	}
	toSupport := math.Abs(price - support)
	toResistance := math.Abs(resistance - price)
	nearest := math.Min(toSupport, toResistance)
	span := resistance - support
	if span <= 0 {
		return 0.5
	}
	return clamp01(1 - nearest/span)
}

func sessionHourNorm(unixSeconds int64) float64 {
	if unixSeconds == 0 {
		return 0.5
	}
	hour := (unixSeconds / 3600) % 24
	return float64(hour) / 24.0
}

func dayOfWeekNorm(unixSeconds int64) float64 {
	if unixSeconds == 0 {
		return 0
	}
	day := (unixSeconds/86400 + 4) % 7 // unix epoch was a Thursday
	return float64(day) / 6.0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
