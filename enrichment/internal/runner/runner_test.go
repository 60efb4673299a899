package runner_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
	"github.com/jonesrussell/north-cloud/enrichment/internal/lookup"
	"github.com/jonesrussell/north-cloud/enrichment/internal/memstore"
	"github.com/jonesrussell/north-cloud/enrichment/internal/notifier"
	"github.com/jonesrussell/north-cloud/enrichment/internal/runner"
	infralogger "github.com/jonesrussell/north-cloud/infrastructure/logger"
)

func fullValues(names []string) lookup.Result {
	out := lookup.Result{}
	for _, n := range names {
		out[n] = "value"
	}
	return out
}

func gatedClient(gate <-chan struct{}) *fakeClient {
	c := newFakeClient()
	c.behave = func(_ context.Context, _ domain.Identity, names []string) (lookup.Result, error) {
		<-gate
		return fullValues(names), nil
	}
	return c
}

func TestExecute_WavesSizedByConcurrency(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	run := createRun(t, mem, 12, 5)
	store := &spyStore{Store: mem}
	client := newFakeClient()

	r := runner.New(store, client, testConfig())
	started, err := r.Execute(t.Context(), run.ID, 0)
	require.NoError(t, err)
	require.True(t, started)

	assert.Equal(t, []int{5, 5, 2}, store.Waves())
	assert.Equal(t, 12, client.Total())

	got := getRun(t, mem, run.ID)
	assert.Equal(t, domain.RunCompleted, got.Status)
	assert.Equal(t, 12, got.CurrentIndex)
	assert.Equal(t, 12, got.SuccessCount)
	assert.Zero(t, got.FailedCount)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.LeaseOwner)
}

func TestExecute_ConcurrencyArgumentOverridesRun(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	run := createRun(t, mem, 7, 5)
	store := &spyStore{Store: mem}

	r := runner.New(store, newFakeClient(), testConfig())
	_, err := r.Execute(t.Context(), run.ID, 3)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 3, 1}, store.Waves())
	assert.Equal(t, 3, getRun(t, mem, run.ID).Concurrency)
}

func TestStart_DoubleStartRunsOnce(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	run := createRun(t, mem, 6, 3)
	gate := make(chan struct{})
	client := gatedClient(gate)

	r := runner.New(mem, client, testConfig())
	other := runner.New(mem, client, testConfig())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []bool
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := r.Start(t.Context(), run.ID, 0)
			assert.NoError(t, err)
			mu.Lock()
			results = append(results, ok)
			mu.Unlock()
		}()
	}
	wg.Wait()

	startedCount := 0
	for _, ok := range results {
		if ok {
			startedCount++
		}
	}
	assert.Equal(t, 1, startedCount)
	assert.True(t, r.IsActive(run.ID))

	// A second process sees the live lease.
	ok, err := other.Start(t.Context(), run.ID, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	close(gate)
	r.Wait()

	for i := range 6 {
		assert.Equal(t, 1, client.Calls(partNumber(i)), "part %s", partNumber(i))
	}
	assert.False(t, r.IsActive(run.ID))

	// Terminal runs are never restarted.
	ok, err = r.Start(t.Context(), run.ID, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 6, client.Total())
}

func TestStart_UnknownRun(t *testing.T) {
	t.Parallel()

	r := runner.New(memstore.New(), newFakeClient(), testConfig())
	ok, err := r.Start(t.Context(), "missing", 0)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, domain.IsNotFound(err))
}

func TestExecute_ResumesAfterInterruption(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	run := createRun(t, mem, 12, 5)
	client := newFakeClient()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	// Reads: claim, wave 1, wave 2, then the check before wave 3.
	crashing := &spyStore{Store: mem, onGetRun: func(call int) {
		if call == 4 {
			cancel()
		}
	}}

	first := runner.New(crashing, client, testConfig())
	started, err := first.Execute(ctx, run.ID, 0)
	require.NoError(t, err)
	require.True(t, started)

	mid := getRun(t, mem, run.ID)
	assert.Equal(t, domain.RunProcessing, mid.Status)
	assert.Equal(t, 10, mid.CurrentIndex)
	assert.Empty(t, mid.LeaseOwner, "interrupted loop releases its lease")

	second := runner.New(mem, client, testConfig())
	started, err = second.Execute(t.Context(), run.ID, 0)
	require.NoError(t, err)
	require.True(t, started)

	for i := range 12 {
		assert.Equal(t, 1, client.Calls(partNumber(i)), "part %s looked up more than once", partNumber(i))
	}
	final := getRun(t, mem, run.ID)
	assert.Equal(t, domain.RunCompleted, final.Status)
	assert.Equal(t, 12, final.CurrentIndex)
	assert.Equal(t, 12, final.SuccessCount)
}

func TestSweep_ResumesStaleLease(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	mem := memstore.New(memstore.WithClock(clock.Now))
	run := createRun(t, mem, 12, 5)
	ctx := t.Context()

	// A process claims the run, finishes three items of its first wave and
	// dies with the other two still processing.
	ok, err := mem.ClaimRun(ctx, run.ID, "crashed-host", 5, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	wave, err := mem.ListPendingItems(ctx, run.ID, 5)
	require.NoError(t, err)
	ids := make([]string, len(wave))
	for i, it := range wave {
		ids[i] = it.ID
	}
	require.NoError(t, mem.MarkItemsProcessing(ctx, run.ID, "crashed-host", ids))
	for _, it := range wave[:3] {
		applied, _, recErr := mem.RecordItemResult(ctx, run.ID, "crashed-host", it.ID, domain.Outcome{
			Status:     domain.ItemSuccess,
			ResultData: map[string]string{"Voltage": "230V", "Phase": "1"},
		})
		require.NoError(t, recErr)
		require.True(t, applied)
	}

	client := newFakeClient()
	r := runner.New(mem, client, testConfig())
	sweeper := runner.NewSweeper(r, "@every 1h", infralogger.NewNop())

	assert.Zero(t, sweeper.Sweep(ctx), "live lease must not be taken over")

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, sweeper.Sweep(ctx))
	r.Wait()

	final := getRun(t, mem, run.ID)
	assert.Equal(t, domain.RunCompleted, final.Status)
	assert.Equal(t, 12, final.CurrentIndex)
	assert.Equal(t, 12, final.SuccessCount)
	assert.Equal(t, 9, client.Total())
	for _, it := range wave[:3] {
		assert.Zero(t, client.Calls(it.Identity.PartNumber))
	}
}

func TestSweeper_StartRunsImmediately(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	run := createRun(t, mem, 4, 2)
	ctx := t.Context()
	ok, err := mem.ClaimRun(ctx, run.ID, "old-host", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mem.ReleaseRun(ctx, run.ID, "old-host"))

	r := runner.New(mem, newFakeClient(), testConfig())
	sweeper := runner.NewSweeper(r, "", nil)
	require.NoError(t, sweeper.Start(ctx))
	sweeper.Stop()
	r.Wait()

	assert.Equal(t, domain.RunCompleted, getRun(t, mem, run.ID).Status)
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	t.Parallel()

	r := runner.New(memstore.New(), newFakeClient(), testConfig())
	err := runner.NewSweeper(r, "every now and then", nil).Start(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule recovery sweep")
}

func TestCancel_StopsBeforeNextWave(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	run := createRun(t, mem, 12, 5)
	gate := make(chan struct{})
	client := gatedClient(gate)
	events := &eventLog{}

	r := runner.New(mem, client, testConfig(), runner.WithNotifier(events))
	ok, err := r.Start(t.Context(), run.ID, 0)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool { return client.Total() == 5 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, r.Cancel(t.Context(), run.ID))
	close(gate)
	r.Wait()

	final := getRun(t, mem, run.ID)
	assert.Equal(t, domain.RunCancelled, final.Status)
	assert.Equal(t, 5, final.CurrentIndex, "in-flight wave is recorded")
	assert.Equal(t, 5, client.Total())

	pending, err := mem.ListPendingItems(t.Context(), run.ID, 100)
	require.NoError(t, err)
	assert.Len(t, pending, 7)

	var sawCancel bool
	for _, ev := range events.Events() {
		if ev.Type == notifier.EventRunStatus && ev.Status == string(domain.RunCancelled) {
			sawCancel = true
		}
	}
	assert.True(t, sawCancel)

	err = r.Cancel(t.Context(), run.ID)
	require.Error(t, err)
	assert.True(t, domain.IsInvalidTransition(err))
}

func TestExecute_CounterInvariant(t *testing.T) {
	t.Parallel()

	const total = 40
	mem := memstore.New()
	run := createRun(t, mem, total, 7)
	events := &eventLog{}

	client := newFakeClient()
	client.behave = func(_ context.Context, id domain.Identity, names []string) (lookup.Result, error) {
		var n int
		_, _ = fmt.Sscanf(id.PartNumber, "P-%d", &n)
		switch n % 3 {
		case 0:
			return fullValues(names), nil
		case 1:
			return lookup.Result{names[0]: "x"}, nil
		default:
			return nil, &domain.LookupError{Reason: "upstream status 502"}
		}
	}

	r := runner.New(mem, client, testConfig(), runner.WithNotifier(events))
	_, err := r.Execute(t.Context(), run.ID, 0)
	require.NoError(t, err)

	progressEvents := 0
	for _, ev := range events.Events() {
		if ev.Type != notifier.EventRunProgress {
			continue
		}
		progressEvents++
		p := ev.Progress
		require.NotNil(t, p)
		assert.LessOrEqual(t, p.SuccessCount+p.FailedCount, p.CurrentIndex)
		assert.LessOrEqual(t, p.CurrentIndex, p.TotalCount)
	}
	assert.Equal(t, total, progressEvents)

	var success, partial, failed int
	for _, it := range itemsByPart(t, mem, run.ID) {
		switch it.Status {
		case domain.ItemSuccess:
			success++
		case domain.ItemPartial:
			partial++
		case domain.ItemFailed:
			failed++
		default:
			t.Errorf("item %s left %s", it.ID, it.Status)
		}
	}
	assert.Equal(t, 14, success)
	assert.Equal(t, 13, partial)
	assert.Equal(t, 13, failed)

	final := getRun(t, mem, run.ID)
	assert.Equal(t, total, final.CurrentIndex)
	assert.Equal(t, success, final.SuccessCount)
	assert.Equal(t, failed, final.FailedCount)
	assert.Equal(t, total, success+partial+failed)
}

func TestExecute_FillRateThreshold(t *testing.T) {
	t.Parallel()

	schema := make([]domain.AttributeDef, 10)
	for i := range schema {
		schema[i] = domain.AttributeDef{Category: "Valves", Attribute: fmt.Sprintf("Attr%d", i)}
	}

	tests := []struct {
		name      string
		filled    int
		want      domain.ItemStatus
		wantError string
	}{
		{name: "seven of ten", filled: 7, want: domain.ItemSuccess},
		{name: "six of ten", filled: 6, want: domain.ItemPartial},
		{name: "none of ten", filled: 0, want: domain.ItemFailed, wantError: "no values returned for requested attributes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mem := memstore.New()
			run, err := mem.CreateRun(t.Context(), "alice", workItems(1, "valves"), schema, domain.CreateRunOptions{})
			require.NoError(t, err)

			client := newFakeClient()
			client.behave = func(_ context.Context, _ domain.Identity, names []string) (lookup.Result, error) {
				out := lookup.Result{}
				for i, n := range names {
					if i < tt.filled {
						out[n] = "v"
					} else {
						out[n] = "N/A"
					}
				}
				return out, nil
			}

			_, err = runner.New(mem, client, testConfig()).Execute(t.Context(), run.ID, 0)
			require.NoError(t, err)

			item := itemsByPart(t, mem, run.ID)[partNumber(0)]
			assert.Equal(t, tt.want, item.Status)
			assert.Len(t, item.ResultData, tt.filled)
			assert.Equal(t, tt.wantError, item.Error)
			assert.Equal(t, domain.RunCompleted, getRun(t, mem, run.ID).Status)
		})
	}
}

func TestExecute_ItemWithoutAttributesSucceeds(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	run, err := mem.CreateRun(t.Context(), "alice", workItems(1, "Fasteners"), motorSchema, domain.CreateRunOptions{})
	require.NoError(t, err)
	client := newFakeClient()

	_, err = runner.New(mem, client, testConfig()).Execute(t.Context(), run.ID, 0)
	require.NoError(t, err)

	item := itemsByPart(t, mem, run.ID)[partNumber(0)]
	assert.Equal(t, domain.ItemSuccess, item.Status)
	assert.Empty(t, item.ResultData)
	assert.Zero(t, client.Total(), "no lookup for an item with nothing to find")

	final := getRun(t, mem, run.ID)
	assert.Equal(t, 1, final.SuccessCount)
}

func TestExecute_LookupFailureFailsItemOnly(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	run := createRun(t, mem, 3, 3)
	client := newFakeClient()
	client.behave = func(_ context.Context, id domain.Identity, names []string) (lookup.Result, error) {
		if id.PartNumber == partNumber(1) {
			return nil, &domain.LookupError{Reason: "upstream status 503"}
		}
		return fullValues(names), nil
	}

	_, err := runner.New(mem, client, testConfig()).Execute(t.Context(), run.ID, 0)
	require.NoError(t, err)

	items := itemsByPart(t, mem, run.ID)
	failedItem := items[partNumber(1)]
	assert.Equal(t, domain.ItemFailed, failedItem.Status)
	assert.Contains(t, failedItem.Error, "upstream status 503")
	assert.Empty(t, failedItem.ResultData)
	assert.Equal(t, domain.ItemSuccess, items[partNumber(0)].Status)

	final := getRun(t, mem, run.ID)
	assert.Equal(t, domain.RunCompleted, final.Status)
	assert.Equal(t, 2, final.SuccessCount)
	assert.Equal(t, 1, final.FailedCount)
}

func TestExecute_HungLookupTimesOut(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	run := createRun(t, mem, 2, 2)
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })

	client := newFakeClient()
	client.behave = func(_ context.Context, id domain.Identity, names []string) (lookup.Result, error) {
		if id.PartNumber == partNumber(0) {
			<-hang // ignores its context
		}
		return fullValues(names), nil
	}

	cfg := testConfig()
	cfg.LookupTimeout = 50 * time.Millisecond
	start := time.Now()
	_, err := runner.New(mem, client, cfg).Execute(t.Context(), run.ID, 0)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	items := itemsByPart(t, mem, run.ID)
	assert.Equal(t, domain.ItemFailed, items[partNumber(0)].Status)
	assert.Contains(t, items[partNumber(0)].Error, "timed out after 50ms")
	assert.Equal(t, domain.ItemSuccess, items[partNumber(1)].Status)
	assert.Equal(t, domain.RunCompleted, getRun(t, mem, run.ID).Status)
}

func TestExecute_PanickingLookupFailsItem(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	run := createRun(t, mem, 1, 1)
	client := newFakeClient()
	client.behave = func(context.Context, domain.Identity, []string) (lookup.Result, error) {
		panic("nil map in parser")
	}

	_, err := runner.New(mem, client, testConfig()).Execute(t.Context(), run.ID, 0)
	require.NoError(t, err)

	item := itemsByPart(t, mem, run.ID)[partNumber(0)]
	assert.Equal(t, domain.ItemFailed, item.Status)
	assert.Contains(t, item.Error, "panic: nil map in parser")
}

func TestExecute_PlainClientErrorIsLookupFailure(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	run := createRun(t, mem, 1, 1)
	client := newFakeClient()
	client.behave = func(context.Context, domain.Identity, []string) (lookup.Result, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	_, err := runner.New(mem, client, testConfig()).Execute(t.Context(), run.ID, 0)
	require.NoError(t, err)

	item := itemsByPart(t, mem, run.ID)[partNumber(0)]
	assert.Equal(t, domain.ItemFailed, item.Status)
	assert.Equal(t, "lookup failed: lookup: dial tcp: connection refused", item.Error)
}

func TestExecute_StoreWriteFailureFailsRun(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	run := createRun(t, mem, 10, 5)
	target := itemsByPart(t, mem, run.ID)[partNumber(3)]
	store := &spyStore{Store: mem, failResultOn: target.ID}
	events := &eventLog{}

	_, err := runner.New(store, newFakeClient(), testConfig(), runner.WithNotifier(events)).Execute(t.Context(), run.ID, 0)
	require.Error(t, err)

	var writeErr *domain.StoreWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "record item result", writeErr.Op)

	final := getRun(t, mem, run.ID)
	assert.Equal(t, domain.RunFailed, final.Status)
	assert.Contains(t, final.Error, "connection reset by peer")
	assert.Equal(t, []int{5}, store.Waves(), "no wave after the failure")
	assert.Equal(t, 4, final.CurrentIndex)

	var sawFailed bool
	for _, ev := range events.Events() {
		if ev.Type == notifier.EventRunStatus && ev.Status == string(domain.RunFailed) {
			sawFailed = true
			assert.Contains(t, ev.Error, "connection reset by peer")
		}
	}
	assert.True(t, sawFailed)
}

func TestShutdown_LeavesRunResumable(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	run := createRun(t, mem, 8, 4)
	gate := make(chan struct{})
	client := gatedClient(gate)

	r := runner.New(mem, client, testConfig())
	ok, err := r.Start(t.Context(), run.ID, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Eventually(t, func() bool { return client.Total() == 4 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- r.Shutdown(context.Background()) }()
	close(gate)
	require.NoError(t, <-done)

	mid := getRun(t, mem, run.ID)
	assert.Equal(t, domain.RunProcessing, mid.Status)
	assert.Equal(t, 4, mid.CurrentIndex)
	assert.Empty(t, mid.LeaseOwner)

	next := runner.New(mem, client, testConfig())
	_, err = next.Execute(t.Context(), run.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, getRun(t, mem, run.ID).Status)
	assert.Equal(t, 8, client.Total())
}

func TestExecute_DeletedRunStops(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	run := createRun(t, mem, 6, 3)
	store := &spyStore{Store: mem}
	store.onGetRun = func(call int) {
		if call == 3 {
			_ = mem.DeleteRun(context.Background(), run.ID)
		}
	}

	_, err := runner.New(store, newFakeClient(), testConfig()).Execute(t.Context(), run.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, store.Waves())
}

func TestExecute_StaleOwnerCannotWrite(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	mem := memstore.New(memstore.WithClock(clock.Now))
	run := createRun(t, mem, 3, 1)
	ids := make(map[string]string)
	for part, it := range itemsByPart(t, mem, run.ID) {
		ids[part] = it.ID
	}

	// A stalls before recording its first outcome, long enough to lose the lease.
	aBlocked, releaseA := make(chan struct{}), make(chan struct{})
	storeA := &spyStore{Store: mem}
	storeA.beforeResult = func(_ context.Context, itemID string) {
		if itemID == ids[partNumber(0)] {
			close(aBlocked)
			<-releaseA
		}
	}
	aDone := make(chan error, 1)
	go func() {
		_, err := runner.New(storeA, newFakeClient(), testConfig()).Execute(t.Context(), run.ID, 0)
		aDone <- err
	}()
	<-aBlocked

	clock.Advance(2 * time.Minute)

	// B takes over and stalls on the last item.
	bBlocked, releaseB := make(chan struct{}), make(chan struct{})
	storeB := &spyStore{Store: mem}
	storeB.beforeResult = func(_ context.Context, itemID string) {
		if itemID == ids[partNumber(2)] {
			close(bBlocked)
			<-releaseB
		}
	}
	b := runner.New(storeB, newFakeClient(), testConfig())
	bDone := make(chan error, 1)
	go func() {
		started, err := b.Execute(t.Context(), run.ID, 0)
		assert.True(t, started)
		bDone <- err
	}()
	<-bBlocked

	close(releaseA)
	require.NoError(t, <-aDone, "a stale owner stops without failing the run")

	mid := getRun(t, mem, run.ID)
	assert.Equal(t, domain.RunProcessing, mid.Status)
	assert.Equal(t, b.Owner(), mid.LeaseOwner)
	assert.Equal(t, 2, mid.CurrentIndex)
	assert.Equal(t, domain.ItemProcessing, itemsByPart(t, mem, run.ID)[partNumber(2)].Status)

	close(releaseB)
	require.NoError(t, <-bDone)

	final := getRun(t, mem, run.ID)
	assert.Equal(t, domain.RunCompleted, final.Status)
	assert.Equal(t, 3, final.CurrentIndex)
	assert.Equal(t, 3, final.SuccessCount)
	for part, it := range itemsByPart(t, mem, run.ID) {
		assert.Equal(t, domain.ItemSuccess, it.Status, "item %s", part)
	}
}

func TestExecute_HungStoreWriteFailsRun(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	run := createRun(t, mem, 2, 2)
	store := &spyStore{Store: mem}
	store.beforeResult = func(ctx context.Context, _ string) { <-ctx.Done() }

	cfg := testConfig()
	cfg.StoreTimeout = 50 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, err := runner.New(store, newFakeClient(), cfg).Execute(t.Context(), run.ID, 0)
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Execute still blocked on a hung store write")
	}

	var writeErr *domain.StoreWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "record item result", writeErr.Op)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	final := getRun(t, mem, run.ID)
	assert.Equal(t, domain.RunFailed, final.Status)
	assert.Contains(t, final.Error, "deadline exceeded")
}

func TestExecute_RunDeletedMidWaveStopsQuietly(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	run := createRun(t, mem, 6, 3)
	gate := make(chan struct{})
	client := gatedClient(gate)
	log := newRecordingLogger()

	done := make(chan error, 1)
	go func() {
		_, err := runner.New(mem, client, testConfig(), runner.WithLogger(log)).Execute(t.Context(), run.ID, 0)
		done <- err
	}()

	require.Eventually(t, func() bool { return client.Total() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, mem.DeleteRun(t.Context(), run.ID))
	close(gate)

	require.NoError(t, <-done)
	assert.Equal(t, 3, client.Total())
	for _, e := range log.Entries() {
		assert.NotEqual(t, "error", e.level, "unexpected error log %q", e.msg)
	}
	assert.True(t, log.Has("info", "Run deleted, stopping"))
}
