package slack

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited marks rate-limit failures: errors.Is(err, ErrRateLimited)
// holds for every RateLimitError.
var ErrRateLimited = errors.New("slack: rate limited")

// RateLimitError is returned once the retry budget for HTTP 429 responses is
// exhausted. RetryAfter carries the last server hint, when one was given.
type RateLimitError struct {
	Method     string
	Attempts   int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("slack: %s rate limited after %d attempts (retry after %s)", e.Method, e.Attempts, e.RetryAfter)
	}
	return fmt.Sprintf("slack: %s rate limited after %d attempts", e.Method, e.Attempts)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// APIError is an application-level failure: the HTTP exchange succeeded but
// the response envelope carried ok=false. Reason is the upstream error string
// ("channel_not_found", "invalid_auth", ...).
type APIError struct {
	Method string
	Reason string
}

func (e *APIError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("slack: %s failed", e.Method)
	}
	return fmt.Sprintf("slack: %s failed: %s", e.Method, e.Reason)
}
