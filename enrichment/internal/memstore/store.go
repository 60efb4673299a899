// Package memstore is an in-memory Run Store with the same semantics as the
// Postgres store. It backs tests and the single-node "memory" driver.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
)

// Store keeps runs and items in maps guarded by one mutex.
type Store struct {
	mu    sync.Mutex
	runs  map[string]*domain.Run
	items map[string]*domain.Item
	// byRun holds item ids in seq order.
	byRun map[string][]string
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now, for lease expiry tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		runs:  make(map[string]*domain.Run),
		items: make(map[string]*domain.Item),
		byRun: make(map[string][]string),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) CreateRun(
	_ context.Context,
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

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	run := &domain.Run{
		ID:              uuid.NewString(),
		Owner:           owner,
		Status:          domain.RunPending,
		TotalCount:      len(items),
		Concurrency:     concurrency,
		AttributeSchema: slices.Clone(schema),
		ParentRunID:     opts.ParentRunID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.runs[run.ID] = run

	ids := make([]string, len(items))
	for i, wi := range items {
		item := &domain.Item{
			ID:          uuid.NewString(),
			RunID:       run.ID,
			Seq:         i,
			Identity:    wi.Identity,
			CategoryKey: wi.CategoryKey,
			Status:      domain.ItemPending,
		}
		s.items[item.ID] = item
		ids[i] = item.ID
	}
	s.byRun[run.ID] = ids

	return copyRun(run), nil
}

func (s *Store) GetRun(_ context.Context, id string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "run", ID: id}
	}
	return copyRun(run), nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(_ context.Context, filter domain.RunFilter) ([]*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Run
	for _, run := range s.runs {
		if filter.Owner != "" && run.Owner != filter.Owner {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, copyRun(run))
	}
	slices.SortFunc(out, func(a, b *domain.Run) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return compareStrings(a.ID, b.ID)
	})
	return page(out, filter.Offset, filter.Limit), nil
}

func (s *Store) ListPendingItems(_ context.Context, runID string, limit int) ([]*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, &domain.NotFoundError{Resource: "run", ID: runID}
	}

	var out []*domain.Item
	for _, id := range s.byRun[runID] {
		if limit > 0 && len(out) >= limit {
			break
		}
		if item := s.items[id]; item.Status == domain.ItemPending {
			out = append(out, copyItem(item))
		}
	}
	return out, nil
}

func (s *Store) ListItems(_ context.Context, runID string, filter domain.ItemFilter) ([]*domain.Item, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, 0, &domain.NotFoundError{Resource: "run", ID: runID}
	}

	var matched []*domain.Item
	for _, id := range s.byRun[runID] {
		item := s.items[id]
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, item.Status) {
			continue
		}
		matched = append(matched, copyItem(item))
	}
	return page(matched, filter.Offset, filter.Limit), len(matched), nil
}

// MarkItemsProcessing claims pending items for a wave. owner must hold the
// run's lease.
func (s *Store) MarkItemsProcessing(_ context.Context, runID, owner string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.held(runID, owner); err != nil {
		return err
	}
	for _, id := range ids {
		item, ok := s.items[id]
		if !ok || item.RunID != runID {
			continue
		}
		if item.Status == domain.ItemPending {
			item.Status = domain.ItemProcessing
		}
	}
	return nil
}

// MarkItemResult writes the outcome only while the item is pending or
// processing. A repeated write returns applied=false without error.
func (s *Store) MarkItemResult(_ context.Context, runID, owner, itemID string, outcome domain.Outcome) (bool, error) {
	if err := outcome.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.held(runID, owner); err != nil {
		return false, err
	}
	return s.markItemResult(runID, itemID, outcome)
}

// AdvanceRunCounters adds delta to the run counters.
func (s *Store) AdvanceRunCounters(_ context.Context, runID, owner string, delta domain.CounterDelta) (domain.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.held(runID, owner)
	if err != nil {
		return domain.Progress{}, err
	}
	return s.advance(run, delta)
}

// RecordItemResult is MarkItemResult followed, when applied, by
// AdvanceRunCounters under the same lock.
func (s *Store) RecordItemResult(
	_ context.Context,
	runID, owner, itemID string,
	outcome domain.Outcome,
) (bool, domain.Progress, error) {
	if err := outcome.Validate(); err != nil {
		return false, domain.Progress{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.held(runID, owner)
	if err != nil {
		return false, domain.Progress{}, err
	}
	applied, err := s.markItemResult(runID, itemID, outcome)
	if err != nil || !applied {
		return false, run.Progress(), err
	}
	p, err := s.advance(run, domain.DeltaFor(outcome.Status))
	return true, p, err
}

// FinishRun moves a processing run to completed or failed and drops the
// lease. Only the lease holder may finish a run.
func (s *Store) FinishRun(_ context.Context, runID, owner string, status domain.RunStatus, reason string) error {
	if err := domain.ValidateFinish(status); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.held(runID, owner)
	if err != nil {
		return err
	}
	if run.Status != domain.RunProcessing {
		return &domain.InvalidTransitionError{From: run.Status, To: status}
	}
	s.applyStatus(run, status, reason)
	return nil
}

// held returns the run when owner holds its lease.
func (s *Store) held(runID, owner string) (*domain.Run, error) {
	run, ok := s.runs[runID]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "run", ID: runID}
	}
	if owner == "" || run.LeaseOwner != owner {
		return nil, domain.ErrLeaseLost
	}
	return run, nil
}

func (s *Store) markItemResult(runID, itemID string, outcome domain.Outcome) (bool, error) {
	item, ok := s.items[itemID]
	if !ok || item.RunID != runID {
		return false, &domain.NotFoundError{Resource: "item", ID: itemID}
	}
	if item.Status.IsTerminal() {
		return false, nil
	}

	item.Status = outcome.Status
	item.ResultData = maps.Clone(outcome.ResultData)
	if item.ResultData == nil {
		item.ResultData = map[string]string{}
	}
	item.Error = ""
	if outcome.Status == domain.ItemFailed {
		item.Error = outcome.Error
	}
	return true, nil
}

func (s *Store) advance(run *domain.Run, delta domain.CounterDelta) (domain.Progress, error) {
	if run.CurrentIndex+delta.Processed > run.TotalCount {
		return run.Progress(), domain.ErrCounterOverflow
	}
	run.CurrentIndex += delta.Processed
	run.SuccessCount += delta.Succeeded
	run.FailedCount += delta.Failed
	run.UpdatedAt = s.now().UTC()
	return run.Progress(), nil
}

func (s *Store) SetRunStatus(_ context.Context, runID string, status domain.RunStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return &domain.NotFoundError{Resource: "run", ID: runID}
	}
	if err := domain.ValidateRunTransition(run.Status, status); err != nil {
		return err
	}

	s.applyStatus(run, status, reason)
	return nil
}

// applyStatus sets status and its timestamps. A cancelled run keeps its lease
// holder so the wave in flight can still record outcomes; the loop releases
// the lease when it sees the cancellation.
func (s *Store) applyStatus(run *domain.Run, status domain.RunStatus, reason string) {
	now := s.now().UTC()
	run.Status = status
	run.UpdatedAt = now
	if reason != "" {
		run.Error = reason
	}
	if status == domain.RunProcessing && run.StartedAt == nil {
		run.StartedAt = &now
	}
	if status.IsTerminal() {
		run.CompletedAt = &now
	}
	if status.IsFinish() {
		run.LeaseOwner = ""
		run.HeartbeatAt = nil
	}
}

func (s *Store) DeleteRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return &domain.NotFoundError{Resource: "run", ID: runID}
	}
	for _, id := range s.byRun[runID] {
		delete(s.items, id)
	}
	delete(s.byRun, runID)
	delete(s.runs, runID)
	return nil
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func page[T any](in []T, offset, limit int) []T {
	if offset >= len(in) {
		return nil
	}
	in = in[max(offset, 0):]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func copyRun(r *domain.Run) *domain.Run {
	c := *r
	c.AttributeSchema = slices.Clone(r.AttributeSchema)
	return &c
}

func copyItem(i *domain.Item) *domain.Item {
	c := *i
	c.ResultData = maps.Clone(i.ResultData)
	return &c
}
