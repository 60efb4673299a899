package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
)

type leaseState struct {
	Status     domain.RunStatus `db:"status"`
	LeaseOwner string           `db:"lease_owner"`
}

// withLease runs fn in a transaction that holds the run row lock, after
// checking owner still holds the lease. RecoverRun takes the same lock, so a
// new owner's recovery never interleaves with a fenced write.
func (s *RunStore) withLease(ctx context.Context, runID, owner string, fn func(tx *sqlx.Tx, status domain.RunStatus) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lease write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var state leaseState
	err = tx.QueryRowxContext(ctx, `
		SELECT status, lease_owner FROM enrichment_runs WHERE id = $1 FOR UPDATE`,
		runID,
	).StructScan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.NotFoundError{Resource: "run", ID: runID}
		}
		return fmt.Errorf("lock run: %w", err)
	}
	if owner == "" || state.LeaseOwner != owner {
		return domain.ErrLeaseLost
	}

	if err = fn(tx, state.Status); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit lease write: %w", err)
	}
	return nil
}

// MarkItemsProcessing claims pending items for a wave.
func (s *RunStore) MarkItemsProcessing(ctx context.Context, runID, owner string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`
		UPDATE enrichment_items
		SET status = 'processing', updated_at = NOW()
		WHERE run_id = ? AND status = 'pending' AND id IN (?)`,
		runID, ids,
	)
	if err != nil {
		return fmt.Errorf("build mark processing: %w", err)
	}

	return s.withLease(ctx, runID, owner, func(tx *sqlx.Tx, _ domain.RunStatus) error {
		if _, execErr := tx.ExecContext(ctx, tx.Rebind(query), args...); execErr != nil {
			return fmt.Errorf("mark items processing: %w", execErr)
		}
		return nil
	})
}

// MarkItemResult writes the outcome only while the item is still pending or
// processing. A repeated write returns applied=false without error.
func (s *RunStore) MarkItemResult(ctx context.Context, runID, owner, itemID string, outcome domain.Outcome) (bool, error) {
	w, err := encodeOutcome(outcome)
	if err != nil {
		return false, err
	}

	var applied bool
	err = s.withLease(ctx, runID, owner, func(tx *sqlx.Tx, _ domain.RunStatus) error {
		var markErr error
		applied, markErr = markItemResult(ctx, tx, runID, itemID, w)
		return markErr
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// AdvanceRunCounters increments the counters in a single statement so
// concurrent callers never lose updates.
func (s *RunStore) AdvanceRunCounters(ctx context.Context, runID, owner string, delta domain.CounterDelta) (domain.Progress, error) {
	var p domain.Progress
	err := s.withLease(ctx, runID, owner, func(tx *sqlx.Tx, _ domain.RunStatus) error {
		var advErr error
		p, advErr = advanceRunCounters(ctx, tx, runID, delta)
		return advErr
	})
	return p, err
}

// RecordItemResult is MarkItemResult followed, when applied, by
// AdvanceRunCounters in the same transaction.
func (s *RunStore) RecordItemResult(
	ctx context.Context,
	runID, owner, itemID string,
	outcome domain.Outcome,
) (bool, domain.Progress, error) {
	var p domain.Progress
	w, err := encodeOutcome(outcome)
	if err != nil {
		return false, p, err
	}

	var applied bool
	err = s.withLease(ctx, runID, owner, func(tx *sqlx.Tx, _ domain.RunStatus) error {
		var writeErr error
		applied, writeErr = markItemResult(ctx, tx, runID, itemID, w)
		if writeErr != nil || !applied {
			return writeErr
		}
		p, writeErr = advanceRunCounters(ctx, tx, runID, domain.DeltaFor(outcome.Status))
		return writeErr
	})
	if err != nil {
		return false, domain.Progress{}, err
	}
	return applied, p, nil
}

type outcomeWrite struct {
	status string
	result []byte
	errMsg string
}

func encodeOutcome(outcome domain.Outcome) (outcomeWrite, error) {
	if err := outcome.Validate(); err != nil {
		return outcomeWrite{}, err
	}

	data := outcome.ResultData
	if data == nil {
		data = map[string]string{}
	}
	resultJSON, err := json.Marshal(data)
	if err != nil {
		return outcomeWrite{}, fmt.Errorf("encode item result: %w", err)
	}
	w := outcomeWrite{status: string(outcome.Status), result: resultJSON}
	if outcome.Status == domain.ItemFailed {
		w.errMsg = outcome.Error
	}
	return w, nil
}

func markItemResult(ctx context.Context, tx *sqlx.Tx, runID, itemID string, w outcomeWrite) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE enrichment_items
		SET status = $3, result_data = $4, error = $5, updated_at = NOW()
		WHERE id = $1 AND run_id = $2 AND status IN ('pending', 'processing')`,
		itemID, runID, w.status, w.result, w.errMsg,
	)
	if err != nil {
		return false, fmt.Errorf("mark item result: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark item result rows: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err = tx.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM enrichment_items WHERE id = $1 AND run_id = $2)`, itemID, runID,
	); err != nil {
		return false, fmt.Errorf("check item: %w", err)
	}
	if !exists {
		return false, &domain.NotFoundError{Resource: "item", ID: itemID}
	}
	return false, nil
}

func advanceRunCounters(ctx context.Context, tx *sqlx.Tx, runID string, delta domain.CounterDelta) (domain.Progress, error) {
	var p domain.Progress
	err := tx.QueryRowxContext(ctx, `
		UPDATE enrichment_runs
		SET current_index = current_index + $2,
		    success_count = success_count + $3,
		    failed_count  = failed_count + $4,
		    updated_at    = NOW()
		WHERE id = $1 AND current_index + $2 <= total_count
		RETURNING total_count, current_index, success_count, failed_count`,
		runID, delta.Processed, delta.Succeeded, delta.Failed,
	).Scan(&p.TotalCount, &p.CurrentIndex, &p.SuccessCount, &p.FailedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return p, domain.ErrCounterOverflow
	}
	if err != nil {
		return p, fmt.Errorf("advance run counters: %w", err)
	}
	return p, nil
}

// FinishRun moves a processing run to completed or failed and drops the lease.
func (s *RunStore) FinishRun(ctx context.Context, runID, owner string, status domain.RunStatus, reason string) error {
	if err := domain.ValidateFinish(status); err != nil {
		return err
	}

	return s.withLease(ctx, runID, owner, func(tx *sqlx.Tx, current domain.RunStatus) error {
		if current != domain.RunProcessing {
			return &domain.InvalidTransitionError{From: current, To: status}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE enrichment_runs
			SET status       = $2,
			    error        = CASE WHEN $3 <> '' THEN $3 ELSE error END,
			    completed_at = NOW(),
			    lease_owner  = '',
			    heartbeat_at = NULL,
			    updated_at   = NOW()
			WHERE id = $1`,
			runID, string(status), reason,
		); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		return nil
	})
}
