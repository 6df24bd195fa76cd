// Command tradecore runs the trading core in paper mode: the real
// pipeline wired against simulated data, feature, model, risk and
// execution collaborators.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hmuraoka/trading-core/internal/api"
	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/internal/cycle"
	"github.com/hmuraoka/trading-core/internal/metrics"
	"github.com/hmuraoka/trading-core/internal/regime"
	"github.com/hmuraoka/trading-core/internal/selector"
	"github.com/hmuraoka/trading-core/internal/strategy"
)

func main() {
	host := flag.String("host", "localhost", "Monitoring server host")
	port := flag.Int("port", 8080, "Monitoring server port")
	baseConfig := flag.String("config", "configs/base.yaml", "Base threshold config")
	overlayConfig := flag.String("overlay", "configs/tuning.yaml", "Tuning overlay config")
	strategiesConfig := flag.String("strategies", "configs/strategies.yaml", "Strategies listing")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	logger.Info("Starting trading core",
		zap.String("host", *host),
		zap.Int("port", *port),
		zap.String("config", *baseConfig))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := config.NewThresholdStore(logger, *baseConfig, *overlayConfig)
	if err := store.Load(); err != nil {
		logger.Fatal("Threshold store load failed", zap.Error(err))
	}

	loader := strategy.NewLoader(logger, store, *strategiesConfig)
	loaded, err := loader.Load()
	if err != nil {
		logger.Fatal("Strategy load failed", zap.Error(err))
	}

	manager := strategy.NewManager(logger, store)
	names := make([]string, 0, len(loaded))
	for _, entry := range loaded {
		if err := manager.Register(entry.Strategy, entry.Weight); err != nil {
			logger.Fatal("Strategy registration failed",
				zap.String("strategy", entry.ID), zap.Error(err))
		}
		names = append(names, entry.Strategy.Name())
	}

	classifier := regime.NewClassifier(logger, store)
	sel := selector.New(logger, store, names)

	registry := prometheus.NewRegistry()
	coreMetrics := metrics.New(registry)

	paper := newPaperServices(logger, store)
	cycles := cycle.NewManager(logger, store, paper, classifier, sel, manager, coreMetrics)

	server := api.NewServer(logger, cycles, registry)
	go func() {
		if err := server.Start(ctx, *host, *port); err != nil {
			logger.Error("Monitoring server stopped", zap.Error(err))
		}
	}()

	interval := time.Duration(store.Int("trading.cycle_interval_seconds", 60)) * time.Second
	go runLoop(ctx, logger, cycles, interval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutting down")
	cancel()
	time.Sleep(200 * time.Millisecond)
}

// runLoop executes one cycle per tick. Cycles never overlap: RunCycle
// gates internally, and a long cycle simply delays the next tick's work.
func runLoop(ctx context.Context, logger *zap.Logger, cycles *cycle.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := cycles.RunCycle(ctx)
			if err != nil {
				logger.Error("Cycle failed", zap.Error(err))
				continue
			}
			logger.Info("Cycle finished",
				zap.String("cycleId", report.CycleID),
				zap.String("regime", string(report.Regime)),
				zap.Bool("executed", report.Executed))
		}
	}
}

func setupLogger(level string) *zap.Logger {
	zapLevel := zapcore.InfoLevel
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
