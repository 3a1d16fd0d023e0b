package browser

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSessionNotReady reports an ordering bug: a page was requested before
// launch completed or after the session closed. Never retried.
var ErrSessionNotReady = errors.New("browser session is not ready")

// EngineLaunchError means the engine binary is missing or exited during
// startup. Fatal; callers map it to exit code 1.
type EngineLaunchError struct {
	Engine Engine
	Err    error
}

func (e *EngineLaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s engine: %v", e.Engine, e.Err)
}

func (e *EngineLaunchError) Unwrap() error { return e.Err }

// NavigationTimeoutError means the page did not reach a loaded state within
// the step deadline.
type NavigationTimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *NavigationTimeoutError) Error() string {
	return fmt.Sprintf("navigation to %s timed out after %s", e.URL, e.Timeout)
}

func (e *NavigationTimeoutError) Transient() bool { return true }

// NavigationError covers non-timeout navigation failures (DNS, refused
// connections, aborted loads).
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error   { return e.Err }
func (e *NavigationError) Transient() bool { return true }

// ElementNotFoundError means a selector never resolved within its deadline.
type ElementNotFoundError struct {
	Selector string
	Timeout  time.Duration
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element %q not found within %s", e.Selector, e.Timeout)
}

func (e *ElementNotFoundError) Transient() bool { return true }

// PageDetachedError means the page or its target went away mid-operation.
type PageDetachedError struct {
	Err error
}

func (e *PageDetachedError) Error() string {
	return fmt.Sprintf("page detached: %v", e.Err)
}

func (e *PageDetachedError) Unwrap() error   { return e.Err }
func (e *PageDetachedError) Transient() bool { return true }

type transientError interface {
	error
	Transient() bool
}

// IsTransient reports whether err is eligible for automatic retry.
func IsTransient(err error) bool {
	var te transientError
	return errors.As(err, &te) && te.Transient()
}

// looksLikeTimeout and looksLikeDetached classify driver error text. The
// Playwright client reports timeouts as "Timeout 30000ms exceeded" and
// detached targets as "Target closed" / "page has been closed".
func looksLikeTimeout(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Timeout") && strings.Contains(msg, "exceeded")
}

func looksLikeDetached(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "has been closed") ||
		strings.Contains(msg, "browser closed")
}
