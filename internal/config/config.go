// Package config loads the engine's single configuration object: scorer
// weights, entry thresholds, sizing bounds, the calibrated correlation
// matrix, the funded-account limits ladder, and the market-hours window.
// It is read once at process start via viper; every downstream component
// receives the resolved EngineConfig struct, never viper itself.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TradingHours defines the weekly window during which the engine evaluates
// requests, in a fixed reference timezone. Outside it every request, with or
// without open positions, is answered HOLD.
type TradingHours struct {
	Start     string `mapstructure:"start"`    // "HH:MM"
	End       string `mapstructure:"end"`      // "HH:MM"
	Timezone  string `mapstructure:"timezone"` // IANA zone name
	TradeDays []int  `mapstructure:"trade_days"` // 1=Monday .. 7=Sunday
}

// ScorerWeights are the five fixed component weights of the Market Scorer (§4.3).
type ScorerWeights struct {
	Trend     float64 `mapstructure:"trend"`
	Momentum  float64 `mapstructure:"momentum"`
	Volume    float64 `mapstructure:"volume"`
	Structure float64 `mapstructure:"structure"`
	ML        float64 `mapstructure:"ml"`
}

// EntryThresholds gates approval in the Entry Decider (§4.4).
type EntryThresholds struct {
	MinScore          float64 `mapstructure:"min_score"`
	MLCalibrationFloor float64 `mapstructure:"ml_calibration_floor"`
	MLFloorAlign3      float64 `mapstructure:"ml_floor_align_3"`
	MLFloorAlign2      float64 `mapstructure:"ml_floor_align_2"`
	MLFloorAlign1      float64 `mapstructure:"ml_floor_align_1"`
}

// SizingBounds are the Elite Position Sizer's multiplier clamps (§4.5).
type SizingBounds struct {
	BaseRiskPct          float64 `mapstructure:"base_risk_pct"`
	QualityMultMin       float64 `mapstructure:"quality_mult_min"`
	QualityMultMax       float64 `mapstructure:"quality_mult_max"`
	DiversificationMin   float64 `mapstructure:"diversification_min"`
	DiversificationMax   float64 `mapstructure:"diversification_max"`
	PerformanceMultMin   float64 `mapstructure:"performance_mult_min"`
	PerformanceMultMax   float64 `mapstructure:"performance_mult_max"`
	VolMultMin           float64 `mapstructure:"vol_mult_min"`
	VolMultMax           float64 `mapstructure:"vol_mult_max"`
	MinExpectedReturn    float64 `mapstructure:"min_expected_return"`
	MinWinRateForLowER   float64 `mapstructure:"min_winrate_for_low_er"`
	MaxCorrelationAllowed float64 `mapstructure:"max_correlation_allowed"`
	SymbolMaxLots        map[string]float64 `mapstructure:"symbol_max_lots"`
}

// FundedAccountLimits feeds the Funded-Account Guard (§4.9).
type FundedAccountLimits struct {
	DailyLossRiskFraction float64 `mapstructure:"daily_loss_risk_fraction"`
	DrawdownRiskFraction  float64 `mapstructure:"drawdown_risk_fraction"`
	PortfolioHeatCeiling  float64 `mapstructure:"portfolio_heat_ceiling"`
}

// CorrelationMatrix is a static, calibrated map of canonical-symbol-pair to
// correlation coefficient. It is never learned online (§9 open question).
type CorrelationMatrix map[string]float64

// CorrelationKey builds the lookup key for a symbol pair, order-independent.
func CorrelationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "/" + b
}

// Lookup returns the calibrated coefficient for a pair, defaulting to 0 when
// no entry is calibrated (treated as uncorrelated).
func (m CorrelationMatrix) Lookup(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if v, ok := m[CorrelationKey(a, b)]; ok {
		return v
	}
	return 0.0
}

// APIConfig configures the HTTP/WebSocket surface the orchestrator is served
// behind (§11 domain stack: gorilla/mux, rs/cors, prometheus/client_golang).
type APIConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	WebSocketPath  string        `mapstructure:"websocket_path"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxConnections int           `mapstructure:"max_connections"`
	ModelDir       string        `mapstructure:"model_dir"`
}

// EngineConfig is the single resolved configuration object threaded through
// every component constructor.
type EngineConfig struct {
	ScorerWeights       ScorerWeights
	EntryThresholds     EntryThresholds
	SizingBounds        SizingBounds
	FundedAccountLimits FundedAccountLimits
	Correlation         CorrelationMatrix
	TradingHours        TradingHours
	PerformanceWindow   int           // rolling trade-window N, default 20 (§9)
	RequestDeadline     time.Duration // soft per-request deadline (§5), default 5s
	MetadataPath        string
	API                 APIConfig
}

// Default returns the engine's default configuration, matching every fixed
// constant named in the specification.
func Default() EngineConfig {
	return EngineConfig{
		ScorerWeights: ScorerWeights{
			Trend:     0.30,
			Momentum:  0.25,
			Volume:    0.20,
			Structure: 0.15,
			ML:        0.10,
		},
		EntryThresholds: EntryThresholds{
			MinScore:           55,
			MLCalibrationFloor: 52,
			MLFloorAlign3:      60,
			MLFloorAlign2:      65,
			MLFloorAlign1:      73,
		},
		SizingBounds: SizingBounds{
			BaseRiskPct:           0.005,
			QualityMultMin:        0.5,
			QualityMultMax:        1.5,
			DiversificationMin:    0.7,
			DiversificationMax:    1.0,
			PerformanceMultMin:    0.8,
			PerformanceMultMax:    1.2,
			VolMultMin:            0.5,
			VolMultMax:            1.0,
			MinExpectedReturn:     0.3,
			MinWinRateForLowER:    0.40,
			MaxCorrelationAllowed: 0.80,
			SymbolMaxLots: map[string]float64{
				"usoil": 10,
			},
		},
		FundedAccountLimits: FundedAccountLimits{
			DailyLossRiskFraction: 0.20,
			DrawdownRiskFraction:  0.10,
			PortfolioHeatCeiling:  0.05,
		},
		Correlation:       defaultCorrelationMatrix(),
		TradingHours:      defaultTradingHours(),
		PerformanceWindow: 20,
		RequestDeadline:   5 * time.Second,
		MetadataPath:      "position_metadata.json",
		API: APIConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			WebSocketPath:  "/ws",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			MaxConnections: 256,
			ModelDir:       "./models",
		},
	}
}

// defaultCorrelationMatrix calibrates coefficients for the eight canonical
// symbols: indices move together, gold moves inversely to dollar-quoted FX,
// and oil is loosely tied to risk sentiment alongside the indices.
func defaultCorrelationMatrix() CorrelationMatrix {
	return CorrelationMatrix{
		CorrelationKey("us30", "us100"):  0.85,
		CorrelationKey("us30", "us500"):  0.90,
		CorrelationKey("us100", "us500"): 0.88,
		CorrelationKey("eurusd", "gbpusd"): 0.70,
		CorrelationKey("eurusd", "usdjpy"): -0.35,
		CorrelationKey("gbpusd", "usdjpy"): -0.25,
		CorrelationKey("xau", "eurusd"): 0.30,
		CorrelationKey("xau", "usdjpy"): -0.40,
		CorrelationKey("xau", "usoil"):  0.20,
		CorrelationKey("usoil", "us30"): 0.25,
		CorrelationKey("usoil", "us500"): 0.25,
	}
}

func defaultTradingHours() TradingHours {
	return TradingHours{
		Start:     "00:00",
		End:       "23:59",
		Timezone:  "UTC",
		TradeDays: []int{1, 2, 3, 4, 5},
	}
}

// Load reads configuration from the named file (if it exists) and the
// environment, overlaying Default(). Matching the teacher's viper usage in
// its server configuration loader: values are resolved once into a plain
// struct, and components never see viper itself again.
func Load(path string) (EngineConfig, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("scorer_weights", cfg.ScorerWeights)
	v.SetDefault("entry_thresholds", cfg.EntryThresholds)
	v.SetDefault("sizing_bounds", cfg.SizingBounds)
	v.SetDefault("funded_account_limits", cfg.FundedAccountLimits)
	v.SetDefault("trading_hours", cfg.TradingHours)
	v.SetDefault("performance_window", cfg.PerformanceWindow)
	v.SetDefault("request_deadline", cfg.RequestDeadline)
	v.SetDefault("metadata_path", cfg.MetadataPath)
	v.SetDefault("api", cfg.API)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: reading %s: %w", path, err)
			}
		}
	}

	if err := v.UnmarshalKey("scorer_weights", &cfg.ScorerWeights); err != nil {
		return cfg, fmt.Errorf("config: scorer_weights: %w", err)
	}
	if err := v.UnmarshalKey("entry_thresholds", &cfg.EntryThresholds); err != nil {
		return cfg, fmt.Errorf("config: entry_thresholds: %w", err)
	}
	if err := v.UnmarshalKey("sizing_bounds", &cfg.SizingBounds); err != nil {
		return cfg, fmt.Errorf("config: sizing_bounds: %w", err)
	}
	if err := v.UnmarshalKey("funded_account_limits", &cfg.FundedAccountLimits); err != nil {
		return cfg, fmt.Errorf("config: funded_account_limits: %w", err)
	}
	if err := v.UnmarshalKey("trading_hours", &cfg.TradingHours); err != nil {
		return cfg, fmt.Errorf("config: trading_hours: %w", err)
	}
	cfg.PerformanceWindow = v.GetInt("performance_window")
	cfg.RequestDeadline = v.GetDuration("request_deadline")
	cfg.MetadataPath = v.GetString("metadata_path")
	if err := v.UnmarshalKey("api", &cfg.API); err != nil {
		return cfg, fmt.Errorf("config: api: %w", err)
	}

	if cm := v.GetStringMapString("correlation"); len(cm) > 0 {
		for k, vs := range cm {
			var f float64
			if _, err := fmt.Sscanf(vs, "%f", &f); err == nil {
				cfg.Correlation[k] = f
			}
		}
	}

	return cfg, nil
}
