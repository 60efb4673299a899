// Package service orchestrates the run lifecycle for the HTTP API and the CLI.
package service

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
	"github.com/jonesrussell/north-cloud/enrichment/internal/exporter"
	"github.com/jonesrussell/north-cloud/enrichment/internal/resolver"
	"github.com/jonesrussell/north-cloud/enrichment/internal/runner"
	infralogger "github.com/jonesrussell/north-cloud/infrastructure/logger"
)

// Store is the Run Store as the service sees it.
type Store interface {
	runner.Store
	CreateRun(ctx context.Context, owner string, items []domain.WorkItem, schema []domain.AttributeDef, opts domain.CreateRunOptions) (*domain.Run, error)
	ListRuns(ctx context.Context, filter domain.RunFilter) ([]*domain.Run, error)
	ListItems(ctx context.Context, runID string, filter domain.ItemFilter) ([]*domain.Item, int, error)
	DeleteRun(ctx context.Context, runID string) error
}

// Runner starts and cancels execution loops.
type Runner interface {
	Start(ctx context.Context, runID string, concurrency int) (bool, error)
	Cancel(ctx context.Context, runID string) error
}

// CreateRequest is a work submission.
type CreateRequest struct {
	Items           []domain.WorkItem     `json:"items"`
	AttributeSchema []domain.AttributeDef `json:"attribute_schema"`
	Concurrency     int                   `json:"concurrency"`
	AutoStart       bool                  `json:"auto_start"`
}

// RunService implements run operations on top of a Store and a Runner.
type RunService struct {
	store  Store
	runner Runner
	logger infralogger.Logger
}

// NewRunService creates a RunService.
func NewRunService(store Store, r Runner, logger infralogger.Logger) *RunService {
	if logger == nil {
		logger = infralogger.NewNop()
	}
	return &RunService{store: store, runner: r, logger: logger}
}

// Create stores a new pending run and, when asked, starts it.
func (s *RunService) Create(ctx context.Context, owner string, req CreateRequest) (*domain.Run, error) {
	run, err := s.store.CreateRun(ctx, owner, req.Items, req.AttributeSchema, domain.CreateRunOptions{
		Concurrency: req.Concurrency,
	})
	if err != nil {
		return nil, err
	}

	log := s.logger.With(infralogger.String("run_id", run.ID))
	log.Info("Run created",
		infralogger.String("owner", owner),
		infralogger.Int("total_count", run.TotalCount),
		infralogger.Int("concurrency", run.Concurrency),
	)
	if unmatched := resolver.Unmatched(req.Items, req.AttributeSchema); len(unmatched) > 0 {
		log.Warn("Items with categories absent from the schema will not be looked up",
			infralogger.Strings("categories", unmatched),
		)
	}

	if !req.AutoStart {
		return run, nil
	}
	run, _, err = s.Start(ctx, run.ID, 0)
	return run, err
}

// Start triggers processing. started is false when the run was already
// running or finished; the current run is returned either way.
func (s *RunService) Start(ctx context.Context, runID string, concurrency int) (*domain.Run, bool, error) {
	if concurrency != 0 {
		if _, err := domain.NormalizeConcurrency(concurrency); err != nil {
			return nil, false, err
		}
	}
	started, err := s.runner.Start(ctx, runID, concurrency)
	if err != nil {
		return nil, false, err
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, false, err
	}
	return run, started, nil
}

// Cancel stops the run before its next wave.
func (s *RunService) Cancel(ctx context.Context, runID string) (*domain.Run, error) {
	if err := s.runner.Cancel(ctx, runID); err != nil {
		return nil, err
	}
	return s.store.GetRun(ctx, runID)
}

// Get returns the run and its progress.
func (s *RunService) Get(ctx context.Context, runID string) (*domain.Run, error) {
	return s.store.GetRun(ctx, runID)
}

// List returns runs matching filter, newest first.
func (s *RunService) List(ctx context.Context, filter domain.RunFilter) ([]*domain.Run, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown run status %q", filter.Status)}
	}
	return s.store.ListRuns(ctx, filter)
}

// ListItems returns one page of the run's items and the total matching.
func (s *RunService) ListItems(ctx context.Context, runID string, filter domain.ItemFilter) ([]*domain.Item, int, error) {
	for _, st := range filter.Statuses {
		if _, err := domain.ParseItemStatus(string(st)); err != nil {
			return nil, 0, err
		}
	}
	return s.store.ListItems(ctx, runID, filter)
}

// Delete removes the run and its items, cancelling it first if needed.
func (s *RunService) Delete(ctx context.Context, runID string) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !run.Status.IsTerminal() {
		if cancelErr := s.runner.Cancel(ctx, runID); cancelErr != nil && !domain.IsInvalidTransition(cancelErr) {
			return fmt.Errorf("cancel before delete: %w", cancelErr)
		}
	}
	if err = s.store.DeleteRun(ctx, runID); err != nil {
		return err
	}
	s.logger.Info("Run deleted", infralogger.String("run_id", runID))
	return nil
}

// RetryFailed creates a new run holding the failed items of a finished run,
// and its partial items too when includePartial is set. The original run is
// left as it is.
func (s *RunService) RetryFailed(ctx context.Context, runID string, includePartial, autoStart bool) (*domain.Run, error) {
	parent, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !parent.Status.IsTerminal() {
		return nil, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("run is %s; only finished runs can be retried", parent.Status)}
	}

	statuses := []domain.ItemStatus{domain.ItemFailed}
	if includePartial {
		statuses = append(statuses, domain.ItemPartial)
	}
	items, _, err := s.store.ListItems(ctx, runID, domain.ItemFilter{Statuses: statuses})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, &domain.ValidationError{Field: "items", Message: "run has no items to retry"}
	}

	work := make([]domain.WorkItem, len(items))
	for i, it := range items {
		work[i] = domain.WorkItem{Identity: it.Identity, CategoryKey: it.CategoryKey}
	}

	parentID := parent.ID
	child, err := s.store.CreateRun(ctx, parent.Owner, work, parent.AttributeSchema, domain.CreateRunOptions{
		Concurrency: parent.Concurrency,
		ParentRunID: &parentID,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Retry run created",
		infralogger.String("run_id", child.ID),
		infralogger.String("parent_run_id", parent.ID),
		infralogger.Int("total_count", child.TotalCount),
		infralogger.Bool("include_partial", includePartial),
	)

	if !autoStart {
		return child, nil
	}
	child, _, err = s.Start(ctx, child.ID, 0)
	return child, err
}

// Export returns the run's results table.
func (s *RunService) Export(ctx context.Context, runID string) (*domain.Run, exporter.Table, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, exporter.Table{}, err
	}
	items, _, err := s.store.ListItems(ctx, runID, domain.ItemFilter{})
	if err != nil {
		return nil, exporter.Table{}, err
	}
	return run, exporter.Build(items, run.AttributeSchema), nil
}
