package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/gleaner/internal/browser"
)

func fastPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestDo_TransientErrorExhaustsAttempts(t *testing.T) {
	calls := 0
	navErr := &browser.NavigationError{URL: "https://example.com", Err: errors.New("connection refused")}

	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return navErr
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.ErrorIs(t, err, navErr.Err)
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &browser.NavigationTimeoutError{URL: "https://example.com", Timeout: time.Second}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_NonTransientErrorFailsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("malformed selector")

	err := fastPolicy(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, boom)

	var ex *ExhaustedError
	assert.False(t, errors.As(err, &ex), "non-transient errors must not be wrapped")
}

func TestDo_RefusesToSleepPastDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	policy := Policy{MaxAttempts: 5, BaseDelay: time.Hour}
	calls := 0
	err := policy.Do(ctx, func(ctx context.Context) error {
		calls++
		return &browser.PageDetachedError{Err: errors.New("target closed")}
	})

	assert.Equal(t, 1, calls)
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 1, ex.Attempts)
}

func TestDo_CancelledContextBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fastPolicy(3).Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.Equal(t, 0, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAttempts(t *testing.T) {
	assert.Equal(t, 0, Attempts(nil))
	assert.Equal(t, 1, Attempts(errors.New("plain")))
	assert.Equal(t, 4, Attempts(&ExhaustedError{Attempts: 4, Err: errors.New("x")}))
}

func TestBackoff_CapsAtMaxDelay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 2 * time.Second}
	assert.Equal(t, time.Second, p.backoff(1))
	assert.Equal(t, 2*time.Second, p.backoff(2))
	assert.Equal(t, 2*time.Second, p.backoff(10))
}

func TestBackoff_JitterStaysWithinSpread(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute, Jitter: 0.2}
	for i := 0; i < 50; i++ {
		d := p.backoff(1)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}
