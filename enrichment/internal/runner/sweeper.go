package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	infralogger "github.com/jonesrussell/north-cloud/infrastructure/logger"
)

// DefaultRecoverySchedule is how often orphaned runs are looked for.
const DefaultRecoverySchedule = "@every 1m"

// Sweeper periodically resumes processing runs whose lease was released or
// went stale, which is how runs survive a crashed or restarted process.
type Sweeper struct {
	runner   *Runner
	schedule string
	log      infralogger.Logger
	cron     *cron.Cron

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSweeper creates a sweeper for runner. An empty schedule uses
// DefaultRecoverySchedule.
func NewSweeper(runner *Runner, schedule string, log infralogger.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultRecoverySchedule
	}
	if log == nil {
		log = infralogger.NewNop()
	}
	return &Sweeper{
		runner:   runner,
		schedule: schedule,
		log:      log,
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
}

// Start runs one sweep immediately, then on the schedule.
func (s *Sweeper) Start(ctx context.Context) error {
	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep(sweepCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule recovery sweep %q: %w", s.schedule, err)
	}

	s.Sweep(sweepCtx)
	s.cron.Start()
	s.log.Info("Recovery sweeper started", infralogger.String("schedule", s.schedule))
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
}

// Sweep starts every resumable run and returns how many were started.
func (s *Sweeper) Sweep(ctx context.Context) int {
	runs, err := s.runner.store.ListResumableRuns(ctx, s.runner.cfg.LeaseTTL)
	if err != nil {
		s.log.Error("Listing resumable runs failed", infralogger.Error(err))
		return 0
	}

	started := 0
	for _, run := range runs {
		ok, startErr := s.runner.Start(ctx, run.ID, 0)
		if startErr != nil {
			s.log.Warn("Resuming run failed",
				infralogger.String("run_id", run.ID),
				infralogger.Error(startErr),
			)
			continue
		}
		if ok {
			started++
			s.log.Info("Resumed orphaned run",
				infralogger.String("run_id", run.ID),
				infralogger.Int("current_index", run.CurrentIndex),
				infralogger.Int("total_count", run.TotalCount),
			)
		}
	}
	return started
}
