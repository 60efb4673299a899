package memstore

import (
	"context"
	"time"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
)

// ClaimRun takes the execution lease. It succeeds for a pending run, or for a
// processing run whose lease was released or went stale.
func (s *Store) ClaimRun(_ context.Context, runID, owner string, concurrency int, leaseTTL time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return false, &domain.NotFoundError{Resource: "run", ID: runID}
	}

	now := s.now().UTC()
	switch {
	case run.Status == domain.RunPending:
	case run.Status == domain.RunProcessing && s.leaseFree(run, now, leaseTTL):
	default:
		return false, nil
	}

	run.Status = domain.RunProcessing
	run.LeaseOwner = owner
	run.HeartbeatAt = &now
	run.UpdatedAt = now
	if run.StartedAt == nil {
		run.StartedAt = &now
	}
	if concurrency > 0 {
		run.Concurrency = concurrency
	}
	return true, nil
}

func (s *Store) leaseFree(run *domain.Run, now time.Time, ttl time.Duration) bool {
	return run.LeaseOwner == "" || run.HeartbeatAt == nil || run.HeartbeatAt.Before(now.Add(-ttl))
}

// Heartbeat refreshes the lease. It returns false when owner no longer holds it.
func (s *Store) Heartbeat(_ context.Context, runID, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return false, &domain.NotFoundError{Resource: "run", ID: runID}
	}
	if run.LeaseOwner != owner || run.Status != domain.RunProcessing {
		return false, nil
	}
	now := s.now().UTC()
	run.HeartbeatAt = &now
	return true, nil
}

// ReleaseRun drops owner's lease so another process can resume immediately.
func (s *Store) ReleaseRun(_ context.Context, runID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return &domain.NotFoundError{Resource: "run", ID: runID}
	}
	if run.LeaseOwner == owner {
		run.LeaseOwner = ""
		run.HeartbeatAt = nil
	}
	return nil
}

// RecoverRun returns items orphaned in processing to pending and raises the
// counters to match terminal items. Counters never decrease.
func (s *Store) RecoverRun(_ context.Context, runID string) (domain.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return domain.Progress{}, &domain.NotFoundError{Resource: "run", ID: runID}
	}

	var done, succeeded, failed int
	for _, id := range s.byRun[runID] {
		item := s.items[id]
		switch item.Status {
		case domain.ItemProcessing:
			item.Status = domain.ItemPending
		case domain.ItemSuccess:
			done++
			succeeded++
		case domain.ItemFailed:
			done++
			failed++
		case domain.ItemPartial:
			done++
		case domain.ItemPending:
		}
	}

	run.CurrentIndex = max(run.CurrentIndex, done)
	run.SuccessCount = max(run.SuccessCount, succeeded)
	run.FailedCount = max(run.FailedCount, failed)
	return run.Progress(), nil
}

// ListResumableRuns returns processing runs nobody holds a live lease on.
func (s *Store) ListResumableRuns(_ context.Context, leaseTTL time.Duration) ([]*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var out []*domain.Run
	for _, run := range s.runs {
		if run.Status == domain.RunProcessing && s.leaseFree(run, now, leaseTTL) {
			out = append(out, copyRun(run))
		}
	}
	return out, nil
}
