// Package guard implements the Funded-Account Guard and market-hours gate
// (§4.9): the daily-loss and total-drawdown distance ladder that emulates a
// third-party funded-trader program's risk envelope, plus the weekly trading
// window. Adapted from the teacher's execution.RiskManager kill-switch and
// cooldown bookkeeping and autonomous.TradingAgent's TradingHours check,
// generalized from a blocking kill switch into the spec's continuous
// risk-dollar distance computation.
package guard

import (
	"time"

	"github.com/quantedge/decision-engine/internal/config"
	"github.com/quantedge/decision-engine/pkg/types"
	"github.com/quantedge/decision-engine/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Verdict is the Funded-Account Guard's contract result (§4.9).
type Verdict struct {
	CanTrade       bool
	MaxRiskDollars decimal.Decimal
	Reason         string
}

// Guard evaluates account distance-to-violation and the market-hours window.
type Guard struct {
	logger *zap.Logger
	limits config.FundedAccountLimits
	hours  config.TradingHours
	loc    *time.Location
}

// New builds a Guard from engine configuration. A failure to load the
// configured timezone falls back to UTC and is logged, never fatal.
func New(logger *zap.Logger, cfg config.EngineConfig) *Guard {
	logger = logger.Named("guard")
	loc, err := time.LoadLocation(cfg.TradingHours.Timezone)
	if err != nil {
		logger.Warn("unknown trading-hours timezone, defaulting to UTC",
			zap.String("timezone", cfg.TradingHours.Timezone), zap.Error(err))
		loc = time.UTC
	}
	return &Guard{logger: logger, limits: cfg.FundedAccountLimits, hours: cfg.TradingHours, loc: loc}
}

// Evaluate computes the account's distance to its daily-loss and total-
// drawdown envelopes and derives the risk-dollar ceiling for any new trade.
func (g *Guard) Evaluate(account types.Account) Verdict {
	distanceDaily := account.MaxDailyLoss.Sub(
		utils.MaxDecimal(decimal.Zero, account.DailyStartBal.Sub(account.Equity)))
	distanceDD := account.MaxTotalDrawdown.Sub(
		utils.MaxDecimal(decimal.Zero, account.PeakBalance.Sub(account.Equity)))

	maxFromDaily := distanceDaily.Mul(decimal.NewFromFloat(g.limits.DailyLossRiskFraction))
	maxFromDD := distanceDD.Mul(decimal.NewFromFloat(g.limits.DrawdownRiskFraction))
	maxRisk := utils.MinDecimal(maxFromDaily, maxFromDD)

	canTrade := distanceDaily.GreaterThan(decimal.Zero) && distanceDD.GreaterThan(decimal.Zero)
	reason := ""
	if !canTrade {
		reason = "account guard"
		maxRisk = decimal.Zero
	}
	return Verdict{CanTrade: canTrade, MaxRiskDollars: utils.MaxDecimal(decimal.Zero, maxRisk), Reason: reason}
}

// MarketOpen reports whether `at` falls within the configured weekly trading
// window, evaluated in the guard's reference timezone.
func (g *Guard) MarketOpen(at time.Time) bool {
	local := at.In(g.loc)

	weekday := int(local.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday = 7, matching ISO weekday numbering used in config
	}
	dayAllowed := false
	for _, d := range g.hours.TradeDays {
		if d == weekday {
			dayAllowed = true
			break
		}
	}
	if !dayAllowed {
		return false
	}

	start, err1 := time.Parse("15:04", g.hours.Start)
	end, err2 := time.Parse("15:04", g.hours.End)
	if err1 != nil || err2 != nil {
		return true // misconfigured window: fail open rather than block all trading
	}

	minutesNow := local.Hour()*60 + local.Minute()
	minutesStart := start.Hour()*60 + start.Minute()
	minutesEnd := end.Hour()*60 + end.Minute()
	return minutesNow >= minutesStart && minutesNow <= minutesEnd
}
