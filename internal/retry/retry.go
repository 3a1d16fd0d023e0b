// Package retry bounds unreliable browser operations with attempt and
// deadline semantics. Only transient failures (timeouts, detached pages,
// unresolved selectors) are retried; everything else propagates on the
// first occurrence.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/copyleftdev/gleaner/internal/browser"
)

// Policy describes bounded retry with exponential backoff and jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fraction of the backoff delay randomized in both
	// directions, e.g. 0.2 yields delays in [0.8d, 1.2d].
	Jitter float64
}

// DefaultPolicy matches the run defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    15 * time.Second,
		Jitter:      0.2,
	}
}

// ExhaustedError reports a transient failure that survived every attempt.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Attempts reports how many attempts err consumed. Errors that never went
// through the policy count as one attempt.
func Attempts(err error) int {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex.Attempts
	}
	if err != nil {
		return 1
	}
	return 0
}

// Do invokes op until it succeeds, fails non-transiently, exhausts
// p.MaxAttempts, or ctx expires. The caller's ctx is the hard upper bound:
// the policy never sleeps past its deadline.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return &ExhaustedError{Attempts: attempt - 1, Err: lastErr}
			}
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !browser.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.backoff(attempt)
		if deadline, ok := ctx.Deadline(); ok && time.Now().Add(delay).After(deadline) {
			// Sleeping would outlive the deadline; report what we have.
			return &ExhaustedError{Attempts: attempt, Err: lastErr}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &ExhaustedError{Attempts: attempt, Err: lastErr}
		}
	}
	return &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}

func (p Policy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	delay := base << uint(attempt-1)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := float64(delay) * p.Jitter
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
