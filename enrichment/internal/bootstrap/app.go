// Package bootstrap handles application initialization and lifecycle management
// for the enrichment service.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/enrichment/internal/runner"
	infralogger "github.com/jonesrussell/north-cloud/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/infrastructure/profiling"
)

// Serve runs the HTTP service until a shutdown signal or ctx ends.
func Serve(ctx context.Context, configPath string) error {
	// Phase 1: Load config and create logger
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	log, err := CreateLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting Enrichment Service",
		infralogger.String("version", cfg.Service.Version),
		infralogger.Int("port", cfg.Service.Port),
	)

	// Phase 2: Profiling
	profiling.StartPprofServer(ctx, cfg.Profiling, log)
	profiler, err := profiling.StartPyroscope(cfg.Service.Name, cfg.Service.Version, cfg.Profiling, log)
	if err != nil {
		log.Warn("Continuous profiling unavailable", infralogger.Error(err))
	}
	if profiler != nil {
		defer func() { _ = profiler.Stop() }()
	}

	// Phase 3: Store, Redis, lookup backend, runner
	rt, err := NewRuntime(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("setup runtime: %w", err)
	}
	defer rt.Close()

	// Phase 4: Background workers
	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBackground()
	if rt.Bridge != nil {
		go func() {
			if bridgeErr := rt.Bridge.Run(bgCtx); bridgeErr != nil {
				log.Error("Run event bridge stopped", infralogger.Error(bridgeErr))
			}
		}()
	}

	sweeper := runner.NewSweeper(rt.Runner, cfg.Runner.RecoverySchedule, log.With(infralogger.String("component", "sweeper")))
	if sweepErr := sweeper.Start(bgCtx); sweepErr != nil {
		return fmt.Errorf("start recovery sweeper: %w", sweepErr)
	}

	// Phase 5: HTTP server
	server := SetupHTTPServer(rt)
	runErr := server.RunWithGracefulShutdown(ctx, func(context.Context) {
		sweeper.Stop()
		stopBackground()
	})
	if runErr != nil {
		log.Error("Server error", infralogger.Error(runErr))
		return fmt.Errorf("server error: %w", runErr)
	}

	log.Info("Enrichment Service stopped")
	return nil
}
