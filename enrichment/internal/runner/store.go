package runner

import (
	"context"
	"time"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
)

// Store is the persistence the runner needs. Both the Postgres and the
// in-memory stores implement it.
type Store interface {
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListPendingItems(ctx context.Context, runID string, limit int) ([]*domain.Item, error)
	// Writes below take the lease owner and return domain.ErrLeaseLost once
	// another process holds the run.
	MarkItemsProcessing(ctx context.Context, runID, owner string, ids []string) error
	// RecordItemResult writes the outcome and, when applied, advances the
	// counters atomically. Progress is only meaningful when applied is true.
	RecordItemResult(ctx context.Context, runID, owner, itemID string, outcome domain.Outcome) (applied bool, p domain.Progress, err error)
	FinishRun(ctx context.Context, runID, owner string, status domain.RunStatus, reason string) error
	SetRunStatus(ctx context.Context, runID string, status domain.RunStatus, reason string) error

	ClaimRun(ctx context.Context, runID, owner string, concurrency int, leaseTTL time.Duration) (bool, error)
	Heartbeat(ctx context.Context, runID, owner string) (bool, error)
	ReleaseRun(ctx context.Context, runID, owner string) error
	RecoverRun(ctx context.Context, runID string) (domain.Progress, error)
	ListResumableRuns(ctx context.Context, leaseTTL time.Duration) ([]*domain.Run, error)
}
