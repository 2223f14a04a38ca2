// Package main is the decision engine's entry point: it loads configuration,
// loads each canonical symbol's ensemble artifact, wires the Request
// Orchestrator to the HTTP/WebSocket API, and runs until a shutdown signal
// arrives (§5, §6, §12).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantedge/decision-engine/internal/api"
	"github.com/quantedge/decision-engine/internal/config"
	"github.com/quantedge/decision-engine/internal/ensemble"
	"github.com/quantedge/decision-engine/internal/events"
	"github.com/quantedge/decision-engine/internal/metrics"
	"github.com/quantedge/decision-engine/internal/orchestrator"
	"github.com/quantedge/decision-engine/pkg/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "Path to engine config file (YAML/JSON/TOML)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	predictor := ensemble.New(logger, ensemble.DefaultConfig())
	loaded := 0
	for _, symbol := range utils.CanonicalSymbols {
		artifact, err := loadArtifact(cfg.API.ModelDir, symbol)
		if err != nil {
			logger.Warn("no ensemble artifact for symbol, it will HOLD",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		predictor.LoadArtifact(symbol, artifact)
		loaded++
	}

	bus := events.NewEventBus(logger, events.DefaultEventBusConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := bus.Start(ctx); err != nil {
		logger.Fatal("failed to start event bus", zap.Error(err))
	}

	reg := metrics.New()
	engine := orchestrator.New(logger, cfg, predictor, bus)
	server := api.NewServer(logger, cfg.API, engine, bus, reg)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("API server error", zap.Error(err))
		}
	}()

	logger.Info("decision engine started",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)),
		zap.Int("symbols_loaded", loaded),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	bus.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}

	logger.Info("decision engine stopped")
}

// loadArtifact loads the paired forest/GBT JSON models for one canonical
// symbol from modelDir/<symbol>_forest.json and modelDir/<symbol>_gbt.json.
func loadArtifact(modelDir, symbol string) (*ensemble.Artifact, error) {
	forest, err := ensemble.LoadJSONModel(fmt.Sprintf("%s/%s_forest.json", modelDir, symbol))
	if err != nil {
		return nil, err
	}
	gbt, err := ensemble.LoadJSONModel(fmt.Sprintf("%s/%s_gbt.json", modelDir, symbol))
	if err != nil {
		return nil, err
	}
	return &ensemble.Artifact{Forest: forest, GBT: gbt}, nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
