package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
)

// itemInsertBatch keeps a multi-row insert well under the 65535 parameter limit.
const itemInsertBatch = 1000

// RunStore persists runs and items in PostgreSQL.
type RunStore struct {
	db *sqlx.DB
}

// NewRunStore wraps an open connection.
func NewRunStore(db *sqlx.DB) *RunStore {
	return &RunStore{db: db}
}

type itemInsert struct {
	ID          string `db:"id"`
	RunID       string `db:"run_id"`
	Seq         int    `db:"seq"`
	Identity    []byte `db:"identity"`
	CategoryKey string `db:"category_key"`
}

// CreateRun inserts the run and its pending items in one transaction.
func (s *RunStore) CreateRun(
	ctx context.Context,
	owner string,
	items []domain.WorkItem,
	schema []domain.AttributeDef,
	opts domain.CreateRunOptions,
) (*domain.Run, error) {
	if err := domain.ValidateSubmission(items, schema); err != nil {
		return nil, err
	}
	concurrency, err := domain.NormalizeConcurrency(opts.Concurrency)
	if err != nil {
		return nil, err
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode attribute schema: %w", err)
	}

	rows := make([]itemInsert, len(items))
	runID := uuid.NewString()
	for i, wi := range items {
		identity, marshalErr := json.Marshal(wi.Identity)
		if marshalErr != nil {
			return nil, fmt.Errorf("encode identity of item %d: %w", i, marshalErr)
		}
		rows[i] = itemInsert{ID: uuid.NewString(), RunID: runID, Seq: i, Identity: identity, CategoryKey: wi.CategoryKey}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row runRow
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO enrichment_runs (id, owner, status, total_count, concurrency, attribute_schema, parent_run_id)
		VALUES ($1, $2, 'pending', $3, $4, $5, $6)
		RETURNING `+runColumns,
		runID, owner, len(items), concurrency, schemaJSON, opts.ParentRunID,
	).StructScan(&row)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	for start := 0; start < len(rows); start += itemInsertBatch {
		end := min(start+itemInsertBatch, len(rows))
		if _, err = tx.NamedExecContext(ctx, `
			INSERT INTO enrichment_items (id, run_id, seq, identity, category_key)
			VALUES (:id, :run_id, :seq, :identity, :category_key)`,
			rows[start:end],
		); err != nil {
			return nil, fmt.Errorf("insert items: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create run: %w", err)
	}

	return row.toDomain()
}

func (s *RunStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	var row runRow
	err := s.db.QueryRowxContext(ctx, `SELECT `+runColumns+` FROM enrichment_runs WHERE id = $1`, id).StructScan(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Resource: "run", ID: id}
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return row.toDomain()
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, filter domain.RunFilter) ([]*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM enrichment_runs`

	var whereClauses []string
	var args []any
	argIndex := 1

	if filter.Owner != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("owner = $%d", argIndex))
		args = append(args, filter.Owner)
		argIndex++
	}
	if filter.Status != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, string(filter.Status))
		argIndex++
	}
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return toRuns(rows)
}

func (s *RunStore) ListPendingItems(ctx context.Context, runID string, limit int) ([]*domain.Item, error) {
	var rows []itemRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+itemColumns+`
		FROM enrichment_items
		WHERE run_id = $1 AND status = 'pending'
		ORDER BY seq
		LIMIT $2`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}
	if len(rows) == 0 {
		return nil, s.requireRun(ctx, runID)
	}
	return toItems(rows)
}

// ListItems pages through a run's items in seq order. The total ignores paging.
func (s *RunStore) ListItems(ctx context.Context, runID string, filter domain.ItemFilter) ([]*domain.Item, int, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, 0, err
	}

	where := "WHERE run_id = ?"
	args := []any{runID}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		where += " AND status IN (?)"
		args = append(args, statuses)
	}

	countQuery, countArgs, err := sqlx.In("SELECT COUNT(*) FROM enrichment_items "+where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("build item count: %w", err)
	}
	var total int
	if err = s.db.GetContext(ctx, &total, s.db.Rebind(countQuery), countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	listQuery := "SELECT " + itemColumns + " FROM enrichment_items " + where + " ORDER BY seq"
	if filter.Limit > 0 {
		listQuery += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		listQuery += " OFFSET ?"
		args = append(args, filter.Offset)
	}
	listQuery, listArgs, err := sqlx.In(listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("build item list: %w", err)
	}

	var rows []itemRow
	if err = s.db.SelectContext(ctx, &rows, s.db.Rebind(listQuery), listArgs...); err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	items, err := toItems(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// SetRunStatus is a conditional update on the allowed source statuses, so a
// racing writer can never move a run along an illegal edge. A cancelled run
// keeps its lease holder until that loop releases it.
func (s *RunStore) SetRunStatus(ctx context.Context, runID string, status domain.RunStatus, reason string) error {
	sources := domain.AllowedSources(status)
	if len(sources) > 0 {
		from := make([]string, len(sources))
		for i, src := range sources {
			from[i] = string(src)
		}

		query, args, err := sqlx.In(`
			UPDATE enrichment_runs
			SET status       = ?,
			    error        = CASE WHEN ? <> '' THEN ? ELSE error END,
			    started_at   = CASE WHEN ? THEN COALESCE(started_at, NOW()) ELSE started_at END,
			    completed_at = CASE WHEN ? THEN NOW() ELSE completed_at END,
			    lease_owner  = CASE WHEN ? THEN '' ELSE lease_owner END,
			    heartbeat_at = CASE WHEN ? THEN NULL ELSE heartbeat_at END,
			    updated_at   = NOW()
			WHERE id = ? AND status IN (?)`,
			string(status), reason, reason,
			status == domain.RunProcessing,
			status.IsTerminal(), status.IsFinish(), status.IsFinish(),
			runID, from,
		)
		if err != nil {
			return fmt.Errorf("build set run status: %w", err)
		}

		res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
		if err != nil {
			return fmt.Errorf("set run status: %w", err)
		}
		if n, rowsErr := res.RowsAffected(); rowsErr == nil && n == 1 {
			return nil
		}
	}

	var current domain.RunStatus
	err := s.db.GetContext(ctx, &current, `SELECT status FROM enrichment_runs WHERE id = $1`, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.NotFoundError{Resource: "run", ID: runID}
		}
		return fmt.Errorf("get run status: %w", err)
	}
	return &domain.InvalidTransitionError{From: current, To: status}
}

func (s *RunStore) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM enrichment_runs WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run rows: %w", err)
	}
	if n == 0 {
		return &domain.NotFoundError{Resource: "run", ID: runID}
	}
	return nil
}

func (s *RunStore) requireRun(ctx context.Context, runID string) error {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM enrichment_runs WHERE id = $1)`, runID); err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if !exists {
		return &domain.NotFoundError{Resource: "run", ID: runID}
	}
	return nil
}
