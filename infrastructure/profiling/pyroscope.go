package profiling

import (
	"fmt"
	"os"
	"runtime"

	"github.com/grafana/pyroscope-go"

	"github.com/jonesrussell/north-cloud/infrastructure/logger"
)

// PyroscopeProfiler wraps a running Pyroscope session.
type PyroscopeProfiler struct {
	profiler *pyroscope.Profiler
}

// StartPyroscope returns (nil, nil) when continuous profiling is disabled.
func StartPyroscope(serviceName, version string, cfg Config, log logger.Logger) (*PyroscopeProfiler, error) {
	if !cfg.Pyroscope {
		return nil, nil //nolint:nilnil // disabled is not an error
	}
	cfg.SetDefaults()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	appName := "north-cloud." + serviceName
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   cfg.PyroscopeURL,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
		Tags: map[string]string{
			"environment": cfg.Environment,
			"version":     version,
			"hostname":    hostname,
			"go_version":  runtime.Version(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start pyroscope profiler: %w", err)
	}

	log.Info("Pyroscope continuous profiling started",
		logger.String("application", appName),
		logger.String("server", cfg.PyroscopeURL),
		logger.String("environment", cfg.Environment),
	)

	return &PyroscopeProfiler{profiler: profiler}, nil
}

// Stop flushes and stops profiling. Safe on a nil receiver.
func (p *PyroscopeProfiler) Stop() error {
	if p == nil || p.profiler == nil {
		return nil
	}
	return p.profiler.Stop()
}
