package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream 503")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(clock *fakeClock) *Breaker {
	b := New(Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})
	b.now = clock.now
	return b
}

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(&fakeClock{t: time.Now()})
	ctx := context.Background()

	require.ErrorIs(t, b.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateClosed, b.State())
	require.ErrorIs(t, b.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Now()}
	b := newTestBreaker(clock)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	require.Equal(t, StateOpen, b.State())

	clock.t = clock.t.Add(2 * time.Minute)
	require.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Now()}
	b := newTestBreaker(clock)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	clock.t = clock.t.Add(2 * time.Minute)

	require.ErrorIs(t, b.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_SingleProbe(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Now()}
	b := newTestBreaker(clock)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	clock.t = clock.t.Add(2 * time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	require.ErrorIs(t, b.Execute(ctx, succeed), ErrCircuitOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_CancellationIsNotFailure(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(&fakeClock{t: time.Now()})
	ctx := context.Background()

	for range 5 {
		_ = b.Execute(ctx, func(context.Context) error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	t.Parallel()

	var transitions []string
	b := New(Config{
		FailureThreshold: 1,
		OnStateChange:    func(from, to State) { transitions = append(transitions, from.String()+"->"+to.String()) },
	})

	_ = b.Execute(context.Background(), fail)
	b.Reset()

	assert.Equal(t, []string{"closed->open", "open->closed"}, transitions)
}
