package database

import (
	"encoding/json"
	"fmt"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
)

const runColumns = "id, owner, status, total_count, current_index, success_count, failed_count, " +
	"concurrency, attribute_schema, error, parent_run_id, lease_owner, heartbeat_at, " +
	"created_at, started_at, updated_at, completed_at"

const itemColumns = `id, run_id, seq, identity, category_key, status, result_data, error`

type runRow struct {
	domain.Run
	Schema []byte `db:"attribute_schema"`
}

func (r *runRow) toDomain() (*domain.Run, error) {
	run := r.Run
	if len(r.Schema) > 0 {
		if err := json.Unmarshal(r.Schema, &run.AttributeSchema); err != nil {
			return nil, fmt.Errorf("decode attribute schema of run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

type itemRow struct {
	ID          string            `db:"id"`
	RunID       string            `db:"run_id"`
	Seq         int               `db:"seq"`
	Identity    []byte            `db:"identity"`
	CategoryKey string            `db:"category_key"`
	Status      domain.ItemStatus `db:"status"`
	ResultData  []byte            `db:"result_data"`
	Error       string            `db:"error"`
}

func (r *itemRow) toDomain() (*domain.Item, error) {
	item := &domain.Item{
		ID:          r.ID,
		RunID:       r.RunID,
		Seq:         r.Seq,
		CategoryKey: r.CategoryKey,
		Status:      r.Status,
		Error:       r.Error,
	}
	if err := json.Unmarshal(r.Identity, &item.Identity); err != nil {
		return nil, fmt.Errorf("decode identity of item %s: %w", r.ID, err)
	}
	if len(r.ResultData) > 0 {
		if err := json.Unmarshal(r.ResultData, &item.ResultData); err != nil {
			return nil, fmt.Errorf("decode result of item %s: %w", r.ID, err)
		}
	}
	return item, nil
}

func toItems(rows []itemRow) ([]*domain.Item, error) {
	items := make([]*domain.Item, 0, len(rows))
	for i := range rows {
		item, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func toRuns(rows []runRow) ([]*domain.Run, error) {
	runs := make([]*domain.Run, 0, len(rows))
	for i := range rows {
		run, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}
