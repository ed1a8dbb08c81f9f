// arbd is an automated arbitrage detector and execution engine for
// Polymarket-style prediction-market exchanges.
//
// Architecture:
//
//	main.go                    — entry point: loads config, starts the
//	                              orchestrator, waits for SIGINT/SIGTERM
//	orchestrator/orchestrator.go — wires market data, detection, risk and
//	                              execution; owns every subsystem's lifecycle
//	exchangepool/exchangepool.go — sharded WebSocket connection pool with
//	                              reconnect/backoff and a circuit breaker
//	exchangerest/{client,auth,ratelimit}.go — CLOB REST client, L1/L2 auth,
//	                              token-bucket rate limiting
//	bookcache/bookcache.go    — local order-book mirror, per token
//	relation/relation.go      — inferred-relation/cluster graph
//	strategy/{single_condition,market_rebalancing,combinatorial}.go —
//	                              the three detection strategies
//	risk/risk.go              — pre-trade exposure/profit gate + circuit breaker
//	position/position.go      — durable position store (Pebble)
//	stats/*.go                — MySQL detection/execution/daily stats
//	controlapi/*.go           — HTTP/WS control surface
//
// How it makes money:
//
//	It watches every outcome token's order book across the exchange and
//	detects three kinds of arbitrage: a single market's YES+NO underpricing
//	1, a categorical market's outcomes summing under 1, and a basket of
//	logically related markets violating the LMSR marginal polytope. When the
//	expected profit clears the risk gate, it executes every leg and holds
//	the position to settlement.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"arbcore/internal/config"
	"arbcore/internal/controlapi"
	"arbcore/internal/orchestrator"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ARB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(*cfg))

	orch, err := orchestrator.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to build orchestrator", "error", err)
		os.Exit(1)
	}

	var apiServer *controlapi.Server
	if cfg.Dashboard.Enabled {
		apiServer = controlapi.NewServer(cfg.Dashboard, orch, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("control API failed", "error", err)
			}
		}()
		logger.Info("control API started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	ctx, cancel := context.WithCancel(context.Background())
	orch.Start(ctx)

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("arbd started",
		"shards", cfg.API.ShardCount,
		"max_total_exposure", cfg.Risk.MaxTotalExposure,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop control API", "error", err)
		}
	}

	orch.Stop()
}

func newLogHandler(cfg config.Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
