// Package circuitbreaker stops calling an upstream that keeps failing and
// probes it again after a cool-down.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling fn while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State of the breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before a probe.
	Timeout time.Duration
	// IsFailure decides which errors count against the upstream. Defaults to
	// every non-nil error except context cancellation.
	IsFailure     func(error) bool
	OnStateChange func(from, to State)
}

// DefaultConfig opens after 5 failures and probes after 60s.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Breaker is safe for concurrent use.
type Breaker struct {
	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	probeInFlight   bool
	lastFailureTime time.Time
	config          Config
	now             func() time.Time
}

// New applies defaults for zero fields.
func New(config Config) *Breaker {
	def := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.IsFailure == nil {
		config.IsFailure = defaultIsFailure
	}

	return &Breaker{state: StateClosed, config: config, now: time.Now}
}

// Execute runs fn unless the circuit is open. Half-open admits one probe at a time.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.beforeCall()
	if err != nil {
		return err
	}

	err = fn(ctx)
	b.afterCall(probe, err)
	return err
}

func (b *Breaker) beforeCall() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		wait := b.config.Timeout - b.now().Sub(b.lastFailureTime)
		if wait > 0 {
			return false, fmt.Errorf("%w: retry after %v", ErrCircuitOpen, wait.Round(time.Millisecond))
		}
		b.transitionTo(StateHalfOpen)
	}

	if b.state == StateHalfOpen {
		if b.probeInFlight {
			return false, fmt.Errorf("%w: probe in flight", ErrCircuitOpen)
		}
		b.probeInFlight = true
		return true, nil
	}

	return false, nil
}

func (b *Breaker) afterCall(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probeInFlight = false
	}

	if b.config.IsFailure(err) {
		b.failureCount++
		b.lastFailureTime = b.now()
		if b.state == StateHalfOpen || b.failureCount >= b.config.FailureThreshold {
			b.transitionTo(StateOpen)
		}
		return
	}

	b.failureCount = 0
	if b.state == StateHalfOpen {
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	}
}

func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	old := b.state
	b.state = newState
	b.successCount = 0
	if newState != StateHalfOpen {
		b.failureCount = 0
	}
	b.probeInFlight = false

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(old, newState)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
}
