package bootstrap

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/enrichment/internal/config"
	"github.com/jonesrussell/north-cloud/enrichment/internal/notifier"
	"github.com/jonesrussell/north-cloud/enrichment/internal/runner"
	"github.com/jonesrussell/north-cloud/enrichment/internal/service"
	"github.com/jonesrussell/north-cloud/enrichment/internal/telemetry"
	infralogger "github.com/jonesrussell/north-cloud/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/infrastructure/sse"
)

const runnerShutdownTimeout = 30 * time.Second

// Runtime holds the wired components shared by serve and the CLI commands.
type Runtime struct {
	Config    *config.Config
	Logger    infralogger.Logger
	Store     service.Store
	DB        *sqlx.DB
	Redis     *redis.Client
	Broker    sse.Broker
	Bridge    *notifier.StreamBridge
	Runner    *runner.Runner
	Service   *service.RunService
	Telemetry *telemetry.Provider
}

// NewRuntime opens the store, Redis and the lookup backend and builds the
// runner and service on top.
func NewRuntime(ctx context.Context, cfg *config.Config, log infralogger.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: log, Telemetry: telemetry.NewProvider(nil)}

	var err error
	if rt.Store, rt.DB, err = SetupStore(ctx, cfg, log); err != nil {
		return nil, err
	}
	if rt.Redis, err = SetupRedis(ctx, cfg, log); err != nil {
		rt.Close()
		return nil, err
	}
	if rt.Broker, err = SetupBroker(ctx, cfg, log); err != nil {
		rt.Close()
		return nil, err
	}

	client, err := SetupLookupClient(cfg, log)
	if err != nil {
		rt.Close()
		return nil, err
	}

	instance := instanceID(cfg)
	notify, bridge := SetupNotifier(cfg, rt.Broker, rt.Redis, instance, log)
	rt.Bridge = bridge

	readRetry := retry.DefaultConfig()
	readRetry.MaxAttempts = cfg.Runner.ReadRetryAttempts
	rt.Runner = runner.New(rt.Store, client, runner.Config{
		DefaultConcurrency: cfg.Runner.DefaultConcurrency,
		SuccessThreshold:   cfg.Runner.SuccessThreshold,
		LookupTimeout:      cfg.Runner.LookupTimeout,
		LeaseTTL:           cfg.Runner.LeaseTTL,
		StoreTimeout:       cfg.Runner.StoreTimeout,
		Owner:              instance,
		ReadRetry:          readRetry,
	},
		runner.WithLogger(log.With(infralogger.String("component", "runner"))),
		runner.WithNotifier(notify),
		runner.WithTelemetry(rt.Telemetry),
	)
	rt.Service = service.NewRunService(rt.Store, rt.Runner, log)

	log.Info("Runtime ready",
		infralogger.String("instance", instance),
		infralogger.String("lookup_backend", cfg.Lookup.Backend),
		infralogger.Bool("redis", rt.Redis != nil),
	)
	return rt, nil
}

// Close stops the runner loops and releases connections.
func (rt *Runtime) Close() {
	if rt.Runner != nil {
		ctx, cancel := context.WithTimeout(context.Background(), runnerShutdownTimeout)
		if err := rt.Runner.Shutdown(ctx); err != nil {
			rt.Logger.Warn("Run loops did not stop in time", infralogger.Error(err))
		}
		cancel()
	}
	if rt.Broker != nil {
		if err := rt.Broker.Stop(); err != nil {
			rt.Logger.Warn("Stopping SSE broker failed", infralogger.Error(err))
		}
	}
	var errs []error
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	if rt.DB != nil {
		errs = append(errs, rt.DB.Close())
	}
	if err := errors.Join(errs...); err != nil {
		rt.Logger.Error("Closing connections failed", infralogger.Error(err))
	}
}

// instanceID names this process in run leases and stream consumer groups.
func instanceID(cfg *config.Config) string {
	if cfg.Runner.InstanceID != "" {
		return cfg.Runner.InstanceID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = cfg.Service.Name
	}
	return host + "-" + uuid.NewString()[:8]
}
