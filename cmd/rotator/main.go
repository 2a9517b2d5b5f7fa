// Package main provides the rotator binary: it loads configuration and map
// content, then drives the action scheduler against a perception source until
// interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rotator/internal/config"
	"github.com/cory-johannsen/rotator/internal/engine"
	"github.com/cory-johannsen/rotator/internal/game/input"
	"github.com/cory-johannsen/rotator/internal/game/random"
	"github.com/cory-johannsen/rotator/internal/observability"
	"github.com/cory-johannsen/rotator/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/rotator.yaml", "path to configuration file")
	mapName := flag.String("map", "", "map to start on; overrides scheduler.map")
	replayPath := flag.String("replay", "", "recorded perception file; overrides content.replay")
	seed := flag.Uint64("seed", 0, "seed for deterministic jitter; 0 uses a crypto source")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *mapName != "" {
		cfg.Scheduler.Map = *mapName
	}
	if *replayPath != "" {
		cfg.Content.Replay = *replayPath
	}

	baseLogger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer baseLogger.Sync()
	logger, runID := observability.ForRun(baseLogger)

	src := random.NewCryptoSource()
	if *seed != 0 {
		src = random.NewSeeded(*seed)
	}

	logger.Info("starting rotator",
		zap.String("run_id", runID),
		zap.String("map", cfg.Scheduler.Map),
		zap.Duration("tick_interval", cfg.Scheduler.TickInterval),
	)

	rt, err := engine.Build(cfg, input.NewLogSink(logger), src, logger)
	if err != nil {
		logger.Fatal("building engine", zap.Error(err))
	}
	defer rt.Close()

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("engine", server.NewContextService(rt.Serve))

	logger.Info("rotator initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Int("maps", rt.Catalog.Maps().Count()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("rotator error", zap.Error(err))
	}

	st := rt.Engine.Scheduler().Status()
	logger.Info("run summary",
		zap.Uint64("ticks", rt.Engine.Ticks()),
		zap.String("state", string(st.State)),
		zap.Any("events", rt.Engine.EventCounts()),
	)
}
