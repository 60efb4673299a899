// Package notifier publishes run progress to observers.
//
// Events are hints: they carry the status and counters at the moment of the
// change, and observers re-read the store for the authoritative state.
// Delivery is at-least-once and duplicates are harmless.
package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
)

// EventType names a progress event.
type EventType string

const (
	EventRunStatus   EventType = "run.status"
	EventRunProgress EventType = "run.progress"
	EventItemUpdated EventType = "item.updated"
	EventRunSnapshot EventType = "run.snapshot"
)

// Event is one progress notification.
type Event struct {
	Type     EventType        `json:"type"`
	RunID    string           `json:"run_id"`
	ItemID   string           `json:"item_id,omitempty"`
	Status   string           `json:"status,omitempty"`
	Progress *domain.Progress `json:"progress,omitempty"`
	Error    string           `json:"error,omitempty"`
	At       time.Time        `json:"at"`
}

// Notifier delivers events. Callers log errors and carry on.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// RunStatus describes a status change.
func RunStatus(run *domain.Run) Event {
	p := run.Progress()
	return Event{
		Type:     EventRunStatus,
		RunID:    run.ID,
		Status:   string(run.Status),
		Progress: &p,
		Error:    run.Error,
		At:       time.Now().UTC(),
	}
}

// StatusChanged describes a status change when only the new status is known.
func StatusChanged(runID string, status domain.RunStatus, reason string) Event {
	return Event{Type: EventRunStatus, RunID: runID, Status: string(status), Error: reason, At: time.Now().UTC()}
}

// Progress describes a counter change.
func Progress(runID string, p domain.Progress) Event {
	return Event{Type: EventRunProgress, RunID: runID, Progress: &p, At: time.Now().UTC()}
}

// ItemUpdated describes an item reaching its outcome.
func ItemUpdated(runID, itemID string, outcome domain.Outcome) Event {
	return Event{
		Type:   EventItemUpdated,
		RunID:  runID,
		ItemID: itemID,
		Status: string(outcome.Status),
		Error:  outcome.Error,
		At:     time.Now().UTC(),
	}
}

// Snapshot is sent to a newly connected observer.
func Snapshot(run *domain.Run) Event {
	ev := RunStatus(run)
	ev.Type = EventRunSnapshot
	return ev
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

// Notify calls each notifier even when an earlier one fails.
func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Event) error { return nil }
