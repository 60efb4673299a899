package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
)

// leaseFreeClause matches a processing run nobody holds a live lease on.
const leaseFreeClause = `(lease_owner = '' OR heartbeat_at IS NULL OR heartbeat_at < NOW() - make_interval(secs => %s))`

// ClaimRun takes the execution lease with one conditional update: a pending
// run, or a processing run whose lease was released or went stale.
func (s *RunStore) ClaimRun(ctx context.Context, runID, owner string, concurrency int, leaseTTL time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_runs
		SET status       = 'processing',
		    lease_owner  = $2,
		    heartbeat_at = NOW(),
		    started_at   = COALESCE(started_at, NOW()),
		    concurrency  = CASE WHEN $3 > 0 THEN $3 ELSE concurrency END,
		    updated_at   = NOW()
		WHERE id = $1
		  AND (status = 'pending' OR (status = 'processing' AND `+fmt.Sprintf(leaseFreeClause, "$4")+`))`,
		runID, owner, concurrency, leaseTTL.Seconds(),
	)
	if err != nil {
		return false, fmt.Errorf("claim run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim run rows: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	return false, s.requireRun(ctx, runID)
}

// Heartbeat refreshes owner's lease. It returns false once the lease is lost.
func (s *RunStore) Heartbeat(ctx context.Context, runID, owner string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_runs
		SET heartbeat_at = NOW()
		WHERE id = $1 AND lease_owner = $2 AND status = 'processing'`,
		runID, owner,
	)
	if err != nil {
		return false, fmt.Errorf("heartbeat run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat run rows: %w", err)
	}
	return n == 1, nil
}

// ReleaseRun drops owner's lease. Releasing someone else's lease is a no-op.
func (s *RunStore) ReleaseRun(ctx context.Context, runID, owner string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_runs
		SET lease_owner = '', heartbeat_at = NULL
		WHERE id = $1 AND lease_owner = $2`,
		runID, owner,
	); err != nil {
		return fmt.Errorf("release run: %w", err)
	}
	return nil
}

// RecoverRun resets items orphaned in processing and raises the counters to
// the number of terminal items. GREATEST keeps counters monotonic. The run row
// is locked first, the same order fenced writes use.
func (s *RunStore) RecoverRun(ctx context.Context, runID string) (domain.Progress, error) {
	var p domain.Progress

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return p, fmt.Errorf("begin recover run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	if err = tx.GetContext(ctx, &locked, `SELECT id FROM enrichment_runs WHERE id = $1 FOR UPDATE`, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, &domain.NotFoundError{Resource: "run", ID: runID}
		}
		return p, fmt.Errorf("lock run: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE enrichment_items
		SET status = 'pending', updated_at = NOW()
		WHERE run_id = $1 AND status = 'processing'`,
		runID,
	); err != nil {
		return p, fmt.Errorf("reset processing items: %w", err)
	}

	err = tx.QueryRowxContext(ctx, `
		UPDATE enrichment_runs r
		SET current_index = GREATEST(r.current_index, c.done),
		    success_count = GREATEST(r.success_count, c.succeeded),
		    failed_count  = GREATEST(r.failed_count, c.failed),
		    updated_at    = NOW()
		FROM (
		    SELECT COUNT(*) FILTER (WHERE status IN ('success', 'partial', 'failed')) AS done,
		           COUNT(*) FILTER (WHERE status = 'success') AS succeeded,
		           COUNT(*) FILTER (WHERE status = 'failed') AS failed
		    FROM enrichment_items
		    WHERE run_id = $1
		) c
		WHERE r.id = $1
		RETURNING r.total_count, r.current_index, r.success_count, r.failed_count`,
		runID,
	).Scan(&p.TotalCount, &p.CurrentIndex, &p.SuccessCount, &p.FailedCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, &domain.NotFoundError{Resource: "run", ID: runID}
		}
		return p, fmt.Errorf("reconcile run counters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return p, fmt.Errorf("commit recover run: %w", err)
	}
	return p, nil
}

// ListResumableRuns returns processing runs whose lease is free.
func (s *RunStore) ListResumableRuns(ctx context.Context, leaseTTL time.Duration) ([]*domain.Run, error) {
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+runColumns+`
		FROM enrichment_runs
		WHERE status = 'processing' AND `+fmt.Sprintf(leaseFreeClause, "$1")+`
		ORDER BY updated_at`,
		leaseTTL.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("list resumable runs: %w", err)
	}
	return toRuns(rows)
}
