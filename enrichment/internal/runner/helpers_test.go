package runner_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
	"github.com/jonesrussell/north-cloud/enrichment/internal/lookup"
	"github.com/jonesrussell/north-cloud/enrichment/internal/memstore"
	"github.com/jonesrussell/north-cloud/enrichment/internal/notifier"
	"github.com/jonesrussell/north-cloud/enrichment/internal/runner"
	infralogger "github.com/jonesrussell/north-cloud/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/infrastructure/retry"
)

var motorSchema = []domain.AttributeDef{
	{Category: "Motors", Attribute: "Voltage"},
	{Category: "Motors", Attribute: "Phase"},
}

func partNumber(i int) string {
	return fmt.Sprintf("P-%03d", i)
}

func workItems(n int, category string) []domain.WorkItem {
	items := make([]domain.WorkItem, n)
	for i := range items {
		items[i] = domain.WorkItem{
			Identity:    domain.Identity{Manufacturer: "Acme", PartNumber: partNumber(i)},
			CategoryKey: category,
		}
	}
	return items
}

func createRun(t *testing.T, s *memstore.Store, n, concurrency int) *domain.Run {
	t.Helper()
	run, err := s.CreateRun(t.Context(), "alice", workItems(n, "Motors"), motorSchema, domain.CreateRunOptions{Concurrency: concurrency})
	require.NoError(t, err)
	return run
}

func testConfig() runner.Config {
	return runner.Config{
		LookupTimeout: 2 * time.Second,
		LeaseTTL:      time.Minute,
		ReadRetry:     retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
}

// fakeClient fills every requested name unless behave overrides it, and
// counts calls per part number.
type fakeClient struct {
	mu     sync.Mutex
	calls  map[string]int
	behave func(ctx context.Context, identity domain.Identity, names []string) (lookup.Result, error)
}

func newFakeClient() *fakeClient {
	return &fakeClient{calls: make(map[string]int)}
}

func (c *fakeClient) Lookup(ctx context.Context, identity domain.Identity, names []string) (lookup.Result, error) {
	c.mu.Lock()
	c.calls[identity.PartNumber]++
	behave := c.behave
	c.mu.Unlock()

	if behave != nil {
		return behave(ctx, identity, names)
	}
	out := lookup.Result{}
	for _, n := range names {
		out[n] = "value"
	}
	return out, nil
}

func (c *fakeClient) Calls(part string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[part]
}

func (c *fakeClient) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

// spyStore wraps the memory store to observe waves and inject failures.
type spyStore struct {
	*memstore.Store

	mu    sync.Mutex
	waves []int

	getRunCalls  int
	onGetRun     func(call int)
	failResultOn string
	// beforeResult runs ahead of each RecordItemResult.
	beforeResult func(ctx context.Context, itemID string)
}

func (s *spyStore) MarkItemsProcessing(ctx context.Context, runID, owner string, ids []string) error {
	s.mu.Lock()
	s.waves = append(s.waves, len(ids))
	s.mu.Unlock()
	return s.Store.MarkItemsProcessing(ctx, runID, owner, ids)
}

func (s *spyStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	s.mu.Lock()
	s.getRunCalls++
	call, hook := s.getRunCalls, s.onGetRun
	s.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	return s.Store.GetRun(ctx, id)
}

func (s *spyStore) RecordItemResult(
	ctx context.Context,
	runID, owner, itemID string,
	outcome domain.Outcome,
) (bool, domain.Progress, error) {
	s.mu.Lock()
	fail := s.failResultOn != "" && s.failResultOn == itemID
	before := s.beforeResult
	s.mu.Unlock()
	if before != nil {
		before(ctx, itemID)
	}
	if err := ctx.Err(); err != nil {
		return false, domain.Progress{}, err
	}
	if fail {
		return false, domain.Progress{}, errors.New("connection reset by peer")
	}
	return s.Store.RecordItemResult(ctx, runID, owner, itemID, outcome)
}

func (s *spyStore) Waves() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.waves...)
}

type eventLog struct {
	mu     sync.Mutex
	events []notifier.Event
}

func (l *eventLog) Notify(_ context.Context, ev notifier.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) Events() []notifier.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]notifier.Event(nil), l.events...)
}

// itemsByPart returns the run's items keyed by part number.
func itemsByPart(t *testing.T, s *memstore.Store, runID string) map[string]*domain.Item {
	t.Helper()
	items, _, err := s.ListItems(t.Context(), runID, domain.ItemFilter{})
	require.NoError(t, err)
	out := make(map[string]*domain.Item, len(items))
	for _, it := range items {
		out[it.Identity.PartNumber] = it
	}
	return out
}

func getRun(t *testing.T, s runner.Store, id string) *domain.Run {
	t.Helper()
	run, err := s.GetRun(t.Context(), id)
	require.NoError(t, err)
	return run
}

// fakeClock is a settable clock for lease expiry.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type logEntry struct {
	level string
	msg   string
}

// recordingLogger keeps entries in memory; children share the sink.
type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.entries = append(*l.entries, logEntry{level: level, msg: msg})
}

func (l *recordingLogger) Debug(msg string, _ ...infralogger.Field)     { l.record("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...infralogger.Field)      { l.record("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...infralogger.Field)      { l.record("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...infralogger.Field)     { l.record("error", msg) }
func (l *recordingLogger) Fatal(msg string, _ ...infralogger.Field)     { l.record("fatal", msg) }
func (l *recordingLogger) With(...infralogger.Field) infralogger.Logger { return l }
func (l *recordingLogger) Sync() error                                  { return nil }

func (l *recordingLogger) Entries() []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]logEntry(nil), *l.entries...)
}

func (l *recordingLogger) Has(level, msg string) bool {
	for _, e := range l.Entries() {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}
