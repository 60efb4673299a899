//go:build integration

package database_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/jonesrussell/north-cloud/enrichment/internal/database"
	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
	"github.com/jonesrussell/north-cloud/infrastructure/logger"
)

func setupPostgres(t *testing.T) *database.RunStore {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("enrichment"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.MigrateUp(db.DB, logger.NewNop()))
	return database.NewRunStore(db)
}

func TestIntegration_RunLifecycle(t *testing.T) {
	store := setupPostgres(t)
	ctx := t.Context()

	items := make([]domain.WorkItem, 12)
	for i := range items {
		items[i] = domain.WorkItem{Identity: domain.Identity{Manufacturer: "Acme", PartNumber: string(rune('A' + i))}, CategoryKey: "Motors"}
	}
	schema := []domain.AttributeDef{{Category: "Motors", Attribute: "Voltage"}}

	run, err := store.CreateRun(ctx, "alice", items, schema, domain.CreateRunOptions{Concurrency: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, run.Concurrency)

	claimed, err := store.ClaimRun(ctx, run.ID, "node-a", 0, time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	again, err := store.ClaimRun(ctx, run.ID, "node-b", 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	wave, err := store.ListPendingItems(ctx, run.ID, 4)
	require.NoError(t, err)
	require.Len(t, wave, 4)
	assert.Equal(t, 0, wave[0].Seq)

	ids := make([]string, len(wave))
	for i, it := range wave {
		ids[i] = it.ID
	}
	require.NoError(t, store.MarkItemsProcessing(ctx, run.ID, "node-a", ids))

	var wg sync.WaitGroup
	for _, it := range wave {
		wg.Go(func() {
			applied, _, recErr := store.RecordItemResult(ctx, run.ID, "node-a", it.ID,
				domain.Outcome{Status: domain.ItemSuccess, ResultData: map[string]string{"Voltage": "24V"}})
			assert.NoError(t, recErr)
			assert.True(t, applied)
		})
	}
	wg.Wait()

	applied, _, err := store.RecordItemResult(ctx, run.ID, "node-a", wave[0].ID, domain.Outcome{Status: domain.ItemFailed, Error: "late"})
	require.NoError(t, err)
	assert.False(t, applied)

	_, _, err = store.RecordItemResult(ctx, run.ID, "node-b", wave[1].ID, domain.Outcome{Status: domain.ItemFailed, Error: "stale"})
	require.ErrorIs(t, err, domain.ErrLeaseLost)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Progress{TotalCount: 12, CurrentIndex: 4, SuccessCount: 4}, got.Progress())

	require.NoError(t, store.ReleaseRun(ctx, run.ID, "node-a"))
	resumable, err := store.ListResumableRuns(ctx, time.Minute)
	require.NoError(t, err)
	require.Len(t, resumable, 1)

	progress, err := store.RecoverRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, progress.CurrentIndex)

	require.ErrorIs(t, store.FinishRun(ctx, run.ID, "node-a", domain.RunCompleted, ""), domain.ErrLeaseLost)
	require.NoError(t, store.SetRunStatus(ctx, run.ID, domain.RunCancelled, ""))
	assert.True(t, domain.IsInvalidTransition(store.SetRunStatus(ctx, run.ID, domain.RunCompleted, "")))

	failed, total, err := store.ListItems(ctx, run.ID, domain.ItemFilter{Statuses: []domain.ItemStatus{domain.ItemPending}})
	require.NoError(t, err)
	assert.Equal(t, 8, total)
	assert.Len(t, failed, 8)

	require.NoError(t, store.DeleteRun(ctx, run.ID))
	_, _, err = store.ListItems(ctx, run.ID, domain.ItemFilter{})
	assert.True(t, domain.IsNotFound(err))
}
