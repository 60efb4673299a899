package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
	"github.com/jonesrussell/north-cloud/enrichment/internal/lookup"
	"github.com/jonesrussell/north-cloud/enrichment/internal/notifier"
	"github.com/jonesrussell/north-cloud/enrichment/internal/resolver"
	infralogger "github.com/jonesrussell/north-cloud/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/infrastructure/retry"
)

// heartbeatDivisor sets how many heartbeats fit in one lease TTL.
const heartbeatDivisor = 3

// execute runs waves until no pending items remain or the run leaves
// processing. The caller holds the lease; every write is fenced on it.
func (r *Runner) execute(parent context.Context, runID string, concurrency int) error {
	log := r.log.With(infralogger.String("run_id", runID))

	ctx, stop := context.WithCancelCause(parent)
	defer stop(nil)
	go r.heartbeat(ctx, runID, stop, log)

	r.telemetry.RecordRunStarted()
	finalStatus := "interrupted"
	defer func() { r.telemetry.RecordRunFinished(finalStatus) }()

	log.Info("Run loop started", infralogger.Int("concurrency", concurrency))
	r.notify(ctx, notifier.StatusChanged(runID, domain.RunProcessing, ""))

	for wave := 1; ; wave++ {
		run, err := retry.Value(ctx, r.cfg.ReadRetry, func(ctx context.Context) (*domain.Run, error) {
			rctx, cancel := r.readCtx(ctx)
			defer cancel()
			return r.store.GetRun(rctx, runID)
		})
		if err != nil {
			return r.stopOnReadError(ctx, runID, "read run", err, log)
		}
		if run.Status != domain.RunProcessing {
			finalStatus = string(run.Status)
			log.Info("Run left processing, stopping", infralogger.String("status", string(run.Status)))
			r.dropLease(ctx, runID)
			return nil
		}
		if run.LeaseOwner != r.cfg.Owner {
			log.Warn("Run lease lost, stopping", infralogger.String("lease_owner", run.LeaseOwner))
			return nil
		}
		if ctx.Err() != nil {
			return r.interrupt(ctx, runID, log)
		}

		items, err := retry.Value(ctx, r.cfg.ReadRetry, func(ctx context.Context) ([]*domain.Item, error) {
			rctx, cancel := r.readCtx(ctx)
			defer cancel()
			return r.store.ListPendingItems(rctx, runID, concurrency)
		})
		if err != nil {
			return r.stopOnReadError(ctx, runID, "list pending items", err, log)
		}
		if len(items) == 0 {
			break
		}

		if waveErr := r.processWave(ctx, run, items, wave, log); waveErr != nil {
			if quiet := r.stopQuietly(waveErr, log); quiet {
				return nil
			}
			finalStatus = string(domain.RunFailed)
			r.failRun(ctx, runID, waveErr, log)
			return waveErr
		}
	}

	wctx, cancel := r.writeCtx(ctx)
	err := r.store.FinishRun(wctx, runID, r.cfg.Owner, domain.RunCompleted, "")
	cancel()
	switch {
	case err == nil:
		finalStatus = string(domain.RunCompleted)
		log.Info("Run completed")
		r.notifyRun(ctx, runID)
		return nil
	case domain.IsInvalidTransition(err):
		log.Info("Run changed status before completion", infralogger.Error(err))
		r.dropLease(ctx, runID)
		return nil
	case r.stopQuietly(err, log):
		return nil
	default:
		writeErr := &domain.StoreWriteError{Op: "complete run", Err: err}
		finalStatus = string(domain.RunFailed)
		r.failRun(ctx, runID, writeErr, log)
		return writeErr
	}
}

// stopQuietly reports whether err ends the loop without failing the run:
// another process took the lease, or the run was deleted.
func (r *Runner) stopQuietly(err error, log infralogger.Logger) bool {
	switch {
	case domain.IsLeaseLost(err):
		log.Warn("Run lease lost, stopping", infralogger.Error(err))
		return true
	case domain.IsNotFound(err):
		log.Info("Run deleted, stopping", infralogger.Error(err))
		return true
	default:
		return false
	}
}

func (r *Runner) stopOnReadError(ctx context.Context, runID, op string, err error, log infralogger.Logger) error {
	if ctx.Err() != nil {
		return r.interrupt(ctx, runID, log)
	}
	if domain.IsNotFound(err) {
		log.Info("Run deleted, stopping")
		return nil
	}
	log.Error("Store read failed, releasing run for recovery", infralogger.String("op", op), infralogger.Error(err))
	r.dropLease(ctx, runID)
	return fmt.Errorf("%s: %w", op, err)
}

// interrupt leaves the run processing with its lease released so another
// claim resumes it.
func (r *Runner) interrupt(ctx context.Context, runID string, log infralogger.Logger) error {
	cause := context.Cause(ctx)
	if domain.IsLeaseLost(cause) {
		log.Warn("Run lease lost, stopping")
		return nil
	}
	log.Info("Run loop interrupted, releasing lease", infralogger.Error(cause))
	r.dropLease(ctx, runID)
	return nil
}

func (r *Runner) failRun(ctx context.Context, runID string, cause error, log infralogger.Logger) {
	log.Error("Failing run", infralogger.Error(cause))
	wctx, cancel := r.writeCtx(ctx)
	err := r.store.FinishRun(wctx, runID, r.cfg.Owner, domain.RunFailed, cause.Error())
	cancel()
	if err != nil {
		if r.stopQuietly(err, log) {
			return
		}
		log.Error("Marking run failed did not succeed", infralogger.Error(err))
		r.dropLease(ctx, runID)
		return
	}
	r.notify(ctx, notifier.StatusChanged(runID, domain.RunFailed, cause.Error()))
}

func (r *Runner) notifyRun(ctx context.Context, runID string) {
	rctx, cancel := r.readCtx(context.WithoutCancel(ctx))
	defer cancel()
	run, err := r.store.GetRun(rctx, runID)
	if err != nil {
		r.notify(ctx, notifier.StatusChanged(runID, domain.RunCompleted, ""))
		return
	}
	r.notify(ctx, notifier.RunStatus(run))
}

func (r *Runner) heartbeat(ctx context.Context, runID string, lost context.CancelCauseFunc, log infralogger.Logger) {
	ticker := time.NewTicker(max(r.cfg.LeaseTTL/heartbeatDivisor, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hctx, cancel := r.readCtx(ctx)
			held, err := r.store.Heartbeat(hctx, runID, r.cfg.Owner)
			cancel()
			if err != nil {
				log.Warn("Heartbeat failed", infralogger.Error(err))
				continue
			}
			if !held {
				lost(domain.ErrLeaseLost)
				return
			}
		}
	}
}

// processWave handles one wave. Items keep going after a sibling fails so
// every claimed item reaches an outcome; the first store write error is
// returned. Writes ignore cancellation of ctx.
func (r *Runner) processWave(ctx context.Context, run *domain.Run, items []*domain.Item, wave int, log infralogger.Logger) error {
	start := time.Now()
	ctx, span := r.telemetry.StartSpan(ctx, "enrichment.wave",
		attribute.String("run_id", run.ID),
		attribute.Int("wave", wave),
		attribute.Int("size", len(items)),
	)
	defer span.End()

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	if err := r.markProcessing(ctx, run.ID, ids); err != nil {
		return err
	}

	log.Debug("Processing wave", infralogger.Int("wave", wave), infralogger.Int("items", len(items)))

	wctx := context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, item := range items {
		g.Go(func() error {
			return r.processItem(wctx, run, item, log)
		})
	}
	err := g.Wait()

	r.telemetry.RecordWave(len(items), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *Runner) markProcessing(ctx context.Context, runID string, ids []string) error {
	wctx, cancel := r.writeCtx(ctx)
	defer cancel()
	err := r.store.MarkItemsProcessing(wctx, runID, r.cfg.Owner, ids)
	if err == nil || domain.IsLeaseLost(err) || domain.IsNotFound(err) {
		return err
	}
	return &domain.StoreWriteError{Op: "mark items processing", Err: err}
}

func (r *Runner) processItem(ctx context.Context, run *domain.Run, item *domain.Item, log infralogger.Logger) error {
	names := resolver.Resolve(item.CategoryKey, run.AttributeSchema)
	outcome := r.enrich(ctx, item, names)

	wctx, cancel := r.writeCtx(ctx)
	applied, progress, err := r.store.RecordItemResult(wctx, run.ID, r.cfg.Owner, item.ID, outcome)
	cancel()
	switch {
	case err == nil:
	case domain.IsLeaseLost(err), domain.IsNotFound(err):
		return err
	default:
		return &domain.StoreWriteError{Op: "record item result", Err: err}
	}
	if !applied {
		log.Debug("Item already has an outcome", infralogger.String("item_id", item.ID))
		return nil
	}

	r.telemetry.RecordItem(string(outcome.Status))
	r.notify(ctx, notifier.ItemUpdated(run.ID, item.ID, outcome))
	r.notify(ctx, notifier.Progress(run.ID, progress))
	return nil
}

// enrich looks up names for the item and classifies the result. Lookup
// failures become a failed outcome, never an error.
func (r *Runner) enrich(ctx context.Context, item *domain.Item, names []string) domain.Outcome {
	if len(names) == 0 {
		return domain.Outcome{Status: domain.ItemSuccess, ResultData: map[string]string{}}
	}

	start := time.Now()
	res, err := r.lookupWithTimeout(ctx, item.Identity, names)
	if err != nil {
		var le *domain.LookupError
		reason := "lookup"
		if errors.As(err, &le) {
			reason = le.Reason
		}
		r.telemetry.RecordLookup(time.Since(start), reason)
		return domain.Outcome{Status: domain.ItemFailed, ResultData: map[string]string{}, Error: err.Error()}
	}
	r.telemetry.RecordLookup(time.Since(start), "")

	filled := res.Select(names)
	out := domain.Outcome{
		Status:     Classify(len(names), len(filled), r.cfg.SuccessThreshold),
		ResultData: filled,
	}
	if out.Status == domain.ItemFailed {
		out.Error = noValuesMessage
	}
	return out
}

type lookupResult struct {
	res lookup.Result
	err error
}

// lookupWithTimeout bounds one call. A client that ignores its context is
// abandoned when the deadline passes; a panicking client is reported as a
// lookup failure.
func (r *Runner) lookupWithTimeout(ctx context.Context, identity domain.Identity, names []string) (lookup.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()

	done := make(chan lookupResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- lookupResult{err: &domain.LookupError{Reason: fmt.Sprintf("panic: %v", p)}}
			}
		}()
		res, err := r.client.Lookup(ctx, identity, names)
		done <- lookupResult{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil {
			return out.res, nil
		}
		var le *domain.LookupError
		if errors.As(out.err, &le) {
			return nil, out.err
		}
		if errors.Is(out.err, context.DeadlineExceeded) {
			return nil, &domain.LookupError{Reason: "timeout", Err: out.err}
		}
		return nil, &domain.LookupError{Reason: "lookup", Err: out.err}
	case <-ctx.Done():
		return nil, &domain.LookupError{
			Reason: fmt.Sprintf("timed out after %s", r.cfg.LookupTimeout),
			Err:    ctx.Err(),
		}
	}
}
