package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errFlaky = errors.New("flaky")

func TestDo_RetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errFlaky)
		}
		return nil
	}, WithInitialDelay(time.Millisecond), WithMaxAttempts(5))

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPlainError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errFlaky
	}, WithInitialDelay(time.Millisecond))

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestDo_PermanentUnwraps(t *testing.T) {
	err := Do(context.Background(), func(ctx context.Context) error {
		return Permanent(errFlaky)
	}, WithRetryIf(func(error) bool { return true }))

	assert.Equal(t, errFlaky, err)
}

func TestAwardRetrier_UsesPredicate(t *testing.T) {
	calls := 0
	r := AwardRetrier(4, func(err error) bool { return errors.Is(err, errFlaky) })

	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errFlaky
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 4, calls)
}

func TestDoWithData(t *testing.T) {
	v, err := DoWithData(context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestPolicy_BackoffIsCapped(t *testing.T) {
	p := New(WithInitialDelay(10*time.Millisecond), WithMaxDelay(50*time.Millisecond)).Policy()

	assert.Equal(t, 10*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 20*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 40*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 50*time.Millisecond, p.Backoff(4))
	assert.Equal(t, 50*time.Millisecond, p.Backoff(10))
}

func TestDo_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return Retryable(errFlaky)
	}, WithInitialDelay(time.Hour))

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}
