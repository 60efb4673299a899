package domain

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed input before anything is persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// LookupError is a failed enrichment call for a single item. It is recorded
// on the item and never aborts the Run.
type LookupError struct {
	Reason string
	Err    error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lookup failed: %s: %v", e.Reason, e.Err)
	}
	return "lookup failed: " + e.Reason
}

func (e *LookupError) Unwrap() error { return e.Err }

// InvalidTransitionError is returned when the Run state machine forbids a change.
type InvalidTransitionError struct {
	From RunStatus
	To   RunStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid run transition from %s to %s", e.From, e.To)
}

// StoreWriteError marks a failed persistence write. It fails the Run.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// NotFoundError reports a missing run or item.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsInvalidTransition reports whether err wraps an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return errors.As(err, &it)
}

// ErrCounterOverflow is returned when a counter delta would push
// current_index past total_count.
var ErrCounterOverflow = errors.New("counter delta exceeds run total")

// ErrLeaseLost is returned by lease-fenced writes when the caller no longer
// holds the run's execution lease.
var ErrLeaseLost = errors.New("execution lease lost")

// IsLeaseLost reports whether err wraps ErrLeaseLost.
func IsLeaseLost(err error) bool {
	return errors.Is(err, ErrLeaseLost)
}
