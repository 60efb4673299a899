// Package profiling exposes pprof on a local port and optionally ships
// continuous profiles to Pyroscope.
package profiling

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/jonesrussell/north-cloud/infrastructure/logger"
)

// Config controls both profilers. Everything is off by default.
type Config struct {
	PprofEnabled bool   `env:"ENABLE_PROFILING"            yaml:"pprof_enabled"`
	PprofAddr    string `env:"PPROF_ADDR"                  yaml:"pprof_addr"`
	Pyroscope    bool   `env:"ENABLE_CONTINUOUS_PROFILING" yaml:"pyroscope_enabled"`
	PyroscopeURL string `env:"PYROSCOPE_SERVER_URL"        yaml:"pyroscope_url"`
	Environment  string `env:"PYROSCOPE_ENVIRONMENT"       yaml:"environment"`
}

// SetDefaults binds pprof to localhost only.
func (c *Config) SetDefaults() {
	if c.PprofAddr == "" {
		c.PprofAddr = "localhost:6060"
	}
	if c.PyroscopeURL == "" {
		c.PyroscopeURL = "http://pyroscope:4040"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// StartPprofServer serves /debug/pprof/ on cfg.PprofAddr until ctx ends.
// It is a no-op when pprof is disabled.
func StartPprofServer(ctx context.Context, cfg Config, log logger.Logger) {
	if !cfg.PprofEnabled {
		return
	}
	cfg.SetDefaults()

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: cfg.PprofAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("Starting pprof server", logger.String("address", cfg.PprofAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("pprof server stopped", logger.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
