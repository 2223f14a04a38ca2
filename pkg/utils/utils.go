// Package utils provides small numeric and symbol helpers shared across the
// decision engine's components.
package utils

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// RoundToTickSize rounds a price down to the nearest tick size.
func RoundToTickSize(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.IsZero() {
		return price
	}
	return price.Div(tickSize).Floor().Mul(tickSize)
}

// RoundToStepSize rounds a lot quantity down to the nearest lot step.
func RoundToStepSize(qty, stepSize decimal.Decimal) decimal.Decimal {
	if stepSize.IsZero() {
		return qty
	}
	return qty.Div(stepSize).Floor().Mul(stepSize)
}

// CalculateWinRate returns the fraction of positive values in pnls.
func CalculateWinRate(pnls []decimal.Decimal) decimal.Decimal {
	if len(pnls) == 0 {
		return decimal.Zero
	}
	wins := 0
	for _, pnl := range pnls {
		if pnl.GreaterThan(decimal.Zero) {
			wins++
		}
	}
	return decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(pnls))))
}

// CalculateProfitFactor returns gross profit / gross loss, capped when there are no losses.
func CalculateProfitFactor(pnls []decimal.Decimal) decimal.Decimal {
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	for _, pnl := range pnls {
		if pnl.GreaterThan(decimal.Zero) {
			grossProfit = grossProfit.Add(pnl)
		} else {
			grossLoss = grossLoss.Add(pnl.Abs())
		}
	}
	if grossLoss.IsZero() {
		return decimal.NewFromInt(100)
	}
	return grossProfit.Div(grossLoss)
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxDecimal returns the larger of a and b.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// ClampFloat clamps value to [min, max]. Features, scores, and probabilities
// are dimensionless floats throughout the engine.
func ClampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// MinFloat returns the smaller of a and b.
func MinFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// MaxFloat returns the larger of a and b.
func MaxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

var futuresCodeSuffix = regexp.MustCompile(`[ZFGHJKMNQUVX]\d{2}$`)

// CanonicalizeSymbol normalizes a broker symbol into one of the engine's
// eight canonical symbols, per the external symbol-normalization contract:
// strip a dotted suffix (".sim", ".pro"), strip a trailing two-digit futures
// contract code, lowercase, then map known aliases to their canonical form.
// The second return value is false when the result is not a canonical symbol.
func CanonicalizeSymbol(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		s = s[:idx]
	}
	s = futuresCodeSuffix.ReplaceAllString(s, "")
	s = strings.ToLower(s)
	s = strings.TrimSpace(s)

	switch s {
	case "eurusd", "gbpusd", "usdjpy":
		return s, true
	case "xauusd", "xau", "gold":
		return "xau", true
	case "usoil", "wtioil", "cl", "uscrude":
		return "usoil", true
	case "us30", "dj30", "dow", "wall street":
		return "us30", true
	case "us100", "nas100", "nasdaq100", "ustec":
		return "us100", true
	case "us500", "spx500", "sp500", "spx":
		return "us500", true
	}
	return "", false
}

// CanonicalSymbols lists the engine's eight supported instruments, in the
// order artifacts are loaded at startup.
var CanonicalSymbols = []string{
	"eurusd", "gbpusd", "usdjpy", "xau", "usoil", "us30", "us100", "us500",
}

// SymbolClass enumerates the symbol-class groupings used for trend-band
// thresholds and the symbol-class features.
type SymbolClass int

const (
	SymbolClassUnknown SymbolClass = iota
	SymbolClassForex
	SymbolClassIndices
	SymbolClassCommodities
)

// ClassOfSymbol returns the symbol class for a canonical symbol.
func ClassOfSymbol(canonical string) SymbolClass {
	switch canonical {
	case "eurusd", "gbpusd", "usdjpy":
		return SymbolClassForex
	case "us30", "us100", "us500":
		return SymbolClassIndices
	case "xau", "usoil":
		return SymbolClassCommodities
	default:
		return SymbolClassUnknown
	}
}
