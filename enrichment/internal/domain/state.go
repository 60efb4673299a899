package domain

import (
	"fmt"
	"slices"
)

var runTransitions = map[RunStatus][]RunStatus{
	RunPending:    {RunProcessing, RunCancelled},
	RunProcessing: {RunCompleted, RunFailed, RunCancelled},
	RunCompleted:  {},
	RunFailed:     {},
	RunCancelled:  {},
}

// ValidateRunTransition returns InvalidTransitionError unless from -> to is allowed.
func ValidateRunTransition(from, to RunStatus) error {
	if slices.Contains(runTransitions[from], to) {
		return nil
	}
	return &InvalidTransitionError{From: from, To: to}
}

// AllowedSources lists the statuses a Run may enter `to` from. Stores use it
// to build conditional updates.
func AllowedSources(to RunStatus) []RunStatus {
	var out []RunStatus
	for _, from := range []RunStatus{RunPending, RunProcessing, RunCompleted, RunFailed, RunCancelled} {
		if slices.Contains(runTransitions[from], to) {
			out = append(out, from)
		}
	}
	return out
}

// IsTerminal reports whether no transition leaves s.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	_, ok := runTransitions[s]
	return ok
}

// CanCancel reports whether a Run in this status can be cancelled.
func (s RunStatus) CanCancel() bool {
	return s == RunPending || s == RunProcessing
}

// IsFinish reports whether a run loop may end a run in s. Cancellation comes
// from outside the loop and is not a finish.
func (s RunStatus) IsFinish() bool {
	return s == RunCompleted || s == RunFailed
}

// ValidateFinish returns a ValidationError unless s is a finish status.
func ValidateFinish(s RunStatus) error {
	if s.IsFinish() {
		return nil
	}
	return &ValidationError{Field: "status", Message: fmt.Sprintf("a run cannot finish as %s", s)}
}
