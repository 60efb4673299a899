package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
	"github.com/jonesrussell/north-cloud/enrichment/internal/lookup"
	"github.com/jonesrussell/north-cloud/enrichment/internal/memstore"
	"github.com/jonesrussell/north-cloud/enrichment/internal/runner"
	"github.com/jonesrussell/north-cloud/enrichment/internal/service"
)

var schema = []domain.AttributeDef{
	{Category: "Motors", Attribute: "Voltage"},
	{Category: "Motors", Attribute: "Phase"},
}

// byPart fills both attributes, one attribute or nothing depending on the
// part number's prefix.
func byPart(_ context.Context, id domain.Identity, names []string) (lookup.Result, error) {
	switch id.PartNumber[0] {
	case 'S':
		return lookup.Result{names[0]: "230V", names[1]: "1"}, nil
	case 'P':
		return lookup.Result{names[0]: "230V"}, nil
	default:
		return nil, &domain.LookupError{Reason: "upstream status 500"}
	}
}

func newService(t *testing.T, client lookup.Client) (*service.RunService, *memstore.Store, *runner.Runner) {
	t.Helper()
	store := memstore.New()
	r := runner.New(store, client, runner.Config{LookupTimeout: time.Second})
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return service.NewRunService(store, r, nil), store, r
}

func request(parts ...string) service.CreateRequest {
	items := make([]domain.WorkItem, len(parts))
	for i, p := range parts {
		items[i] = domain.WorkItem{
			Identity:    domain.Identity{Manufacturer: "Acme", PartNumber: p},
			CategoryKey: "Motors",
		}
	}
	return service.CreateRequest{Items: items, AttributeSchema: schema}
}

func TestCreate(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t, lookup.Func(byPart))

	run, err := svc.Create(t.Context(), "alice", request("S-1", "S-2"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunPending, run.Status)
	assert.Equal(t, 2, run.TotalCount)
	assert.Equal(t, "alice", run.Owner)
	assert.Equal(t, domain.DefaultConcurrency, run.Concurrency)
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t, lookup.Func(byPart))

	tests := []struct {
		name string
		req  service.CreateRequest
	}{
		{name: "no items", req: service.CreateRequest{AttributeSchema: schema}},
		{name: "no schema", req: service.CreateRequest{Items: request("S-1").Items}},
		{name: "concurrency too high", req: func() service.CreateRequest {
			r := request("S-1")
			r.Concurrency = domain.MaxConcurrency + 1
			return r
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.Create(t.Context(), "alice", tt.req)
			require.Error(t, err)
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestCreate_AutoStart(t *testing.T) {
	t.Parallel()

	svc, _, r := newService(t, lookup.Func(byPart))
	req := request("S-1", "P-2", "F-3")
	req.AutoStart = true

	run, err := svc.Create(t.Context(), "alice", req)
	require.NoError(t, err)
	assert.NotEqual(t, domain.RunPending, run.Status)

	r.Wait()
	got, err := svc.Get(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, got.Status)
	assert.Equal(t, 1, got.SuccessCount)
	assert.Equal(t, 1, got.FailedCount)
	assert.Equal(t, 1, got.Progress().PartialCount())
}

func TestStart_Idempotent(t *testing.T) {
	t.Parallel()

	svc, _, r := newService(t, lookup.Func(byPart))
	run, err := svc.Create(t.Context(), "alice", request("S-1"))
	require.NoError(t, err)

	_, started, err := svc.Start(t.Context(), run.ID, 0)
	require.NoError(t, err)
	assert.True(t, started)
	r.Wait()

	got, started, err := svc.Start(t.Context(), run.ID, 0)
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, domain.RunCompleted, got.Status)
}

func TestStart_Errors(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t, lookup.Func(byPart))
	run, err := svc.Create(t.Context(), "alice", request("S-1"))
	require.NoError(t, err)

	_, _, err = svc.Start(t.Context(), run.ID, -1)
	assert.True(t, domain.IsValidation(err))

	_, _, err = svc.Start(t.Context(), "missing", 0)
	assert.True(t, domain.IsNotFound(err))
}

func TestCancel(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t, lookup.Func(byPart))
	run, err := svc.Create(t.Context(), "alice", request("S-1"))
	require.NoError(t, err)

	got, err := svc.Cancel(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCancelled, got.Status)

	_, err = svc.Cancel(t.Context(), run.ID)
	assert.True(t, domain.IsInvalidTransition(err))
}

func TestListAndListItems(t *testing.T) {
	t.Parallel()

	svc, _, r := newService(t, lookup.Func(byPart))
	first, err := svc.Create(t.Context(), "alice", request("S-1", "F-2", "F-3"))
	require.NoError(t, err)
	_, err = svc.Create(t.Context(), "bob", request("S-4"))
	require.NoError(t, err)

	runs, err := svc.List(t.Context(), domain.RunFilter{Owner: "alice"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, first.ID, runs[0].ID)

	_, err = svc.List(t.Context(), domain.RunFilter{Status: "sleeping"})
	assert.True(t, domain.IsValidation(err))

	_, _, err = svc.Start(t.Context(), first.ID, 0)
	require.NoError(t, err)
	r.Wait()

	items, total, err := svc.ListItems(t.Context(), first.ID, domain.ItemFilter{
		Statuses: []domain.ItemStatus{domain.ItemFailed},
		Limit:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 1)
	assert.Equal(t, "F-2", items[0].Identity.PartNumber)

	_, _, err = svc.ListItems(t.Context(), first.ID, domain.ItemFilter{Statuses: []domain.ItemStatus{"weird"}})
	assert.True(t, domain.IsValidation(err))
}

func TestDelete(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	slow := lookup.Func(func(ctx context.Context, id domain.Identity, names []string) (lookup.Result, error) {
		<-gate
		return byPart(ctx, id, names)
	})
	svc, store, r := newService(t, slow)

	run, err := svc.Create(t.Context(), "alice", request("S-1", "S-2", "S-3"))
	require.NoError(t, err)
	_, started, err := svc.Start(t.Context(), run.ID, 1)
	require.NoError(t, err)
	require.True(t, started)

	require.NoError(t, svc.Delete(t.Context(), run.ID))
	close(gate)
	r.Wait()

	_, err = store.GetRun(t.Context(), run.ID)
	assert.True(t, domain.IsNotFound(err))
	assert.True(t, domain.IsNotFound(svc.Delete(t.Context(), run.ID)))
}

func TestRetryFailed(t *testing.T) {
	t.Parallel()

	svc, _, r := newService(t, lookup.Func(byPart))
	req := request("S-1", "P-2", "F-3", "F-4")
	req.Concurrency = 2
	parent, err := svc.Create(t.Context(), "alice", req)
	require.NoError(t, err)

	_, err = svc.RetryFailed(t.Context(), parent.ID, false, false)
	require.Error(t, err, "pending runs cannot be retried")
	assert.True(t, domain.IsValidation(err))

	_, _, err = svc.Start(t.Context(), parent.ID, 0)
	require.NoError(t, err)
	r.Wait()

	child, err := svc.RetryFailed(t.Context(), parent.ID, false, false)
	require.NoError(t, err)
	assert.Equal(t, domain.RunPending, child.Status)
	assert.Equal(t, 2, child.TotalCount)
	assert.Equal(t, 2, child.Concurrency)
	assert.Equal(t, "alice", child.Owner)
	require.NotNil(t, child.ParentRunID)
	assert.Equal(t, parent.ID, *child.ParentRunID)

	withPartial, err := svc.RetryFailed(t.Context(), parent.ID, true, false)
	require.NoError(t, err)
	assert.Equal(t, 3, withPartial.TotalCount)

	// The parent is untouched.
	got, err := svc.Get(t.Context(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, got.Status)
	assert.Equal(t, 2, got.FailedCount)
}

func TestRetryFailed_NothingToRetry(t *testing.T) {
	t.Parallel()

	svc, _, r := newService(t, lookup.Func(byPart))
	run, err := svc.Create(t.Context(), "alice", request("S-1"))
	require.NoError(t, err)
	_, _, err = svc.Start(t.Context(), run.ID, 0)
	require.NoError(t, err)
	r.Wait()

	_, err = svc.RetryFailed(t.Context(), run.ID, true, false)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestExport(t *testing.T) {
	t.Parallel()

	svc, _, r := newService(t, lookup.Func(byPart))
	run, err := svc.Create(t.Context(), "alice", request("S-1", "F-2"))
	require.NoError(t, err)
	_, _, err = svc.Start(t.Context(), run.ID, 0)
	require.NoError(t, err)
	r.Wait()

	got, table, err := svc.Export(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, []string{"manufacturer", "part_number", "description", "category", "status", "Voltage", "Phase"}, table.Columns)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"Acme", "S-1", "", "Motors", "success", "230V", "1"}, table.Rows[0])
	assert.Equal(t, "failed", table.Rows[1][4])
}
