// Package domain holds the enrichment run model, its state machine and the
// error taxonomy shared by the store, runner and API layers.
package domain

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

// DefaultConcurrency is the wave size used when none is requested.
const DefaultConcurrency = 5

// AttributeDef is one entry of a Run's attribute schema.
type AttributeDef struct {
	Category  string `json:"category"`
	Attribute string `json:"attribute"`
}

// Run is one batch enrichment job.
type Run struct {
	ID              string         `db:"id"               json:"id"`
	Owner           string         `db:"owner"            json:"owner"`
	Status          RunStatus      `db:"status"           json:"status"`
	TotalCount      int            `db:"total_count"      json:"total_count"`
	CurrentIndex    int            `db:"current_index"    json:"current_index"`
	SuccessCount    int            `db:"success_count"    json:"success_count"`
	FailedCount     int            `db:"failed_count"     json:"failed_count"`
	Concurrency     int            `db:"concurrency"      json:"concurrency"`
	AttributeSchema []AttributeDef `db:"-"                json:"attribute_schema"`
	Error           string         `db:"error"            json:"error,omitempty"`
	ParentRunID     *string        `db:"parent_run_id"    json:"parent_run_id,omitempty"`
	LeaseOwner      string         `db:"lease_owner"      json:"-"`
	HeartbeatAt     *time.Time     `db:"heartbeat_at"     json:"-"`
	CreatedAt       time.Time      `db:"created_at"       json:"created_at"`
	StartedAt       *time.Time     `db:"started_at"       json:"started_at,omitempty"`
	UpdatedAt       time.Time      `db:"updated_at"       json:"updated_at"`
	CompletedAt     *time.Time     `db:"completed_at"     json:"completed_at,omitempty"`
}

// Progress is the counter snapshot of a Run.
type Progress struct {
	TotalCount   int `json:"total_count"`
	CurrentIndex int `json:"current_index"`
	SuccessCount int `json:"success_count"`
	FailedCount  int `json:"failed_count"`
}

// Progress returns the Run's counters.
func (r *Run) Progress() Progress {
	return Progress{
		TotalCount:   r.TotalCount,
		CurrentIndex: r.CurrentIndex,
		SuccessCount: r.SuccessCount,
		FailedCount:  r.FailedCount,
	}
}

// PartialCount is derived: partial items advance current_index only.
func (p Progress) PartialCount() int {
	return p.CurrentIndex - p.SuccessCount - p.FailedCount
}

// CounterDelta is an increment applied atomically to a Run's counters.
type CounterDelta struct {
	Processed int
	Succeeded int
	Failed    int
}

// DeltaFor returns the counter increment for one finished item.
func DeltaFor(status ItemStatus) CounterDelta {
	d := CounterDelta{Processed: 1}
	switch status {
	case ItemSuccess:
		d.Succeeded = 1
	case ItemFailed:
		d.Failed = 1
	case ItemPending, ItemProcessing, ItemPartial:
	}
	return d
}

// CreateRunOptions are optional settings for a new Run.
type CreateRunOptions struct {
	Concurrency int
	ParentRunID *string
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Owner  string
	Status RunStatus
	Limit  int
	Offset int
}

// ItemFilter narrows ListItems.
type ItemFilter struct {
	Statuses []ItemStatus
	Limit    int
	Offset   int
}
