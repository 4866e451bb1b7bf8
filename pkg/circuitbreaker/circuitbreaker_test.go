package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var errDown = errors.New("connection refused")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func newTestBreaker(clock *manualClock, changes *[]State) *Breaker {
	return New(Config{
		Name:             "cache",
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Cooldown:         time.Second,
		MaxProbes:        1,
		Now:              clock.Now,
		OnStateChange:    func(_ string, _, to State) { *changes = append(*changes, to) },
	})
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := &manualClock{t: time.Unix(0, 0)}
	var changes []State
	b := newTestBreaker(clock, &changes)
	ctx := context.Background()

	assert.ErrorIs(t, b.Do(ctx, fail), errDown)
	assert.NoError(t, b.Do(ctx, ok)) // resets the streak
	assert.ErrorIs(t, b.Do(ctx, fail), errDown)
	assert.Equal(t, StateClosed, b.State())

	assert.ErrorIs(t, b.Do(ctx, fail), errDown)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.True(t, Rejected(err))
	assert.False(t, called)
	assert.Equal(t, []State{StateOpen}, changes)
}

func TestBreaker_HalfOpenProbes(t *testing.T) {
	clock := &manualClock{t: time.Unix(0, 0)}
	var changes []State
	b := newTestBreaker(clock, &changes)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	require.Equal(t, StateOpen, b.State())

	// failed probe reopens
	clock.Advance(time.Second)
	assert.ErrorIs(t, b.Do(ctx, fail), errDown)
	assert.Equal(t, StateOpen, b.State())

	clock.Advance(time.Second)
	assert.NoError(t, b.Do(ctx, ok))
	assert.Equal(t, StateHalfOpen, b.State())
	assert.NoError(t, b.Do(ctx, ok))
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateOpen, StateHalfOpen, StateClosed}, changes)
}

func TestBreaker_ProbeLimit(t *testing.T) {
	clock := &manualClock{t: time.Unix(0, 0)}
	var changes []State
	b := newTestBreaker(clock, &changes)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, b.Do(ctx, ok), ErrProbeLimit)
	close(release)
	assert.NoError(t, <-done)
}

func TestBreaker_IgnoresNonFailures(t *testing.T) {
	b := New(Config{FailureThreshold: 1})
	ctx := context.Background()

	assert.ErrorIs(t, b.Do(ctx, func(context.Context) error { return context.Canceled }), context.Canceled)
	assert.Equal(t, StateClosed, b.State())

	miss := errors.New("miss")
	b = ForCache("cache", nil, func(err error) bool { return !errors.Is(err, miss) })
	for i := 0; i < 5; i++ {
		_ = b.Do(ctx, func(context.Context) error { return miss })
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestCall(t *testing.T) {
	b := New(Config{})
	v, err := Call(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	s := b.Stats()
	assert.EqualValues(t, 1, s.Calls)
	assert.Zero(t, s.Failures)
}
