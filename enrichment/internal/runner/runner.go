// Package runner executes enrichment runs.
//
// A run is processed in sequential waves of at most `concurrency` items. The
// items of a wave are looked up concurrently; each outcome is written to the
// store before the run counters advance. Progress lives in the store only,
// so a run interrupted at any point is resumed by claiming it again.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
	"github.com/jonesrussell/north-cloud/enrichment/internal/lookup"
	"github.com/jonesrussell/north-cloud/enrichment/internal/notifier"
	"github.com/jonesrussell/north-cloud/enrichment/internal/telemetry"
	infralogger "github.com/jonesrussell/north-cloud/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/infrastructure/retry"
)

// Defaults.
const (
	DefaultLookupTimeout = 60 * time.Second
	DefaultLeaseTTL      = 2 * time.Minute
	DefaultStoreTimeout  = 10 * time.Second
)

// Config tunes the runner.
type Config struct {
	DefaultConcurrency int
	SuccessThreshold   float64
	LookupTimeout      time.Duration
	LeaseTTL           time.Duration
	// StoreTimeout bounds every store call. A write that times out fails the run.
	StoreTimeout time.Duration
	// Owner identifies this process in the run lease. Defaults to a random id.
	Owner string
	// ReadRetry applies to store reads between waves.
	ReadRetry retry.Config
}

func (c *Config) applyDefaults() {
	if c.DefaultConcurrency <= 0 {
		c.DefaultConcurrency = domain.DefaultConcurrency
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = DefaultLookupTimeout
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.Owner == "" {
		c.Owner = "runner-" + uuid.NewString()
	}
}

// Option configures a Runner.
type Option func(*Runner)

// WithNotifier sets where progress events go.
func WithNotifier(n notifier.Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(log infralogger.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithTelemetry sets the metrics and tracing provider.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(r *Runner) { r.telemetry = p }
}

// Runner owns the execution loops of this process.
type Runner struct {
	store     Store
	client    lookup.Client
	cfg       Config
	notifier  notifier.Notifier
	log       infralogger.Logger
	telemetry *telemetry.Provider

	mu     sync.Mutex
	active map[string]struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a runner. Background loops started with Start live until
// Shutdown.
func New(store Store, client lookup.Client, cfg Config, opts ...Option) *Runner {
	cfg.applyDefaults()
	baseCtx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		store:    store,
		client:   client,
		cfg:      cfg,
		notifier: notifier.Nop{},
		log:      infralogger.NewNop(),
		active:   make(map[string]struct{}),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.telemetry == nil {
		r.telemetry = telemetry.NewProvider(prometheus.NewRegistry())
	}
	return r
}

// Owner returns the lease owner id of this runner.
func (r *Runner) Owner() string {
	return r.cfg.Owner
}

// LeaseTTL returns the lease lifetime.
func (r *Runner) LeaseTTL() time.Duration {
	return r.cfg.LeaseTTL
}

// Start claims the run and processes it in the background. It returns false
// without doing anything when the run is terminal, already running here, or
// held by a live lease elsewhere. A concurrency of zero keeps the run's own.
func (r *Runner) Start(ctx context.Context, runID string, concurrency int) (bool, error) {
	conc, ok, err := r.claim(ctx, runID, concurrency)
	if err != nil || !ok {
		return false, err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(runID)
		if loopErr := r.execute(r.baseCtx, runID, conc); loopErr != nil {
			r.log.Error("Run loop ended with error",
				infralogger.String("run_id", runID),
				infralogger.Error(loopErr),
			)
		}
	}()
	return true, nil
}

// Execute is Start without the goroutine: it returns when the loop ends.
// started is false when the run could not be claimed.
func (r *Runner) Execute(ctx context.Context, runID string, concurrency int) (started bool, err error) {
	conc, ok, err := r.claim(ctx, runID, concurrency)
	if err != nil || !ok {
		return false, err
	}
	defer r.release(runID)
	return true, r.execute(ctx, runID, conc)
}

// Cancel moves the run to cancelled. A running loop stops before its next wave.
func (r *Runner) Cancel(ctx context.Context, runID string) error {
	sctx, cancel := r.readCtx(ctx)
	defer cancel()
	if err := r.store.SetRunStatus(sctx, runID, domain.RunCancelled, ""); err != nil {
		return err
	}
	r.log.Info("Run cancelled", infralogger.String("run_id", runID))
	r.notify(ctx, notifier.StatusChanged(runID, domain.RunCancelled, ""))
	return nil
}

// IsActive reports whether this process is running the run's loop.
func (r *Runner) IsActive(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[runID]
	return ok
}

// Wait blocks until every background loop has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown asks background loops to stop after their current wave and waits
// for them, or for ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for run loops: %w", ctx.Err())
	}
}

// claim reserves the run in this process, then takes the store lease.
func (r *Runner) claim(parent context.Context, runID string, concurrency int) (int, bool, error) {
	ctx, cancel := r.readCtx(parent)
	defer cancel()

	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return 0, false, err
	}
	if run.Status.IsTerminal() {
		return 0, false, nil
	}

	conc := concurrency
	if conc <= 0 {
		conc = run.Concurrency
	}
	if conc <= 0 {
		conc = r.cfg.DefaultConcurrency
	}

	r.mu.Lock()
	if _, busy := r.active[runID]; busy {
		r.mu.Unlock()
		return 0, false, nil
	}
	r.active[runID] = struct{}{}
	r.mu.Unlock()

	ok, err := r.store.ClaimRun(ctx, runID, r.cfg.Owner, conc, r.cfg.LeaseTTL)
	if err != nil || !ok {
		r.release(runID)
		if err != nil {
			return 0, false, fmt.Errorf("claim run: %w", err)
		}
		return 0, false, nil
	}

	progress, err := r.store.RecoverRun(ctx, runID)
	if err != nil {
		r.dropLease(ctx, runID)
		r.release(runID)
		return 0, false, fmt.Errorf("recover run: %w", err)
	}

	r.log.Info("Run claimed",
		infralogger.String("run_id", runID),
		infralogger.String("owner", r.cfg.Owner),
		infralogger.Int("concurrency", conc),
		infralogger.Int("current_index", progress.CurrentIndex),
		infralogger.Int("total_count", progress.TotalCount),
	)
	return conc, true, nil
}

func (r *Runner) release(runID string) {
	r.mu.Lock()
	delete(r.active, runID)
	r.mu.Unlock()
}

// dropLease hands the run back so another claim can take it over at once.
func (r *Runner) dropLease(ctx context.Context, runID string) {
	wctx, cancel := r.writeCtx(ctx)
	defer cancel()
	if err := r.store.ReleaseRun(wctx, runID, r.cfg.Owner); err != nil && !domain.IsNotFound(err) {
		r.log.Warn("Releasing run lease failed",
			infralogger.String("run_id", runID),
			infralogger.Error(err),
		)
	}
}

// readCtx bounds a store call by StoreTimeout.
func (r *Runner) readCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.StoreTimeout)
}

// writeCtx bounds a store write by StoreTimeout. The write outlives
// cancellation of ctx so an outcome already computed is not lost.
func (r *Runner) writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StoreTimeout)
}

func (r *Runner) notify(ctx context.Context, ev notifier.Event) {
	if err := r.notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
		r.log.Warn("Progress notification failed",
			infralogger.String("run_id", ev.RunID),
			infralogger.String("event_type", string(ev.Type)),
			infralogger.Error(err),
		)
	}
}
