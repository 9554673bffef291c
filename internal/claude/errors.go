// Package claude implements the upstream transports: the claude CLI in
// stream-json mode, the Anthropic Messages API for single-turn
// classification, and a scripted querier for tests and replays.
package claude

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RateLimitError indicates the provider rejected the call for rate limiting.
// Use errors.As to detect it.
type RateLimitError struct {
	Provider    string
	RetryAfter  time.Duration
	RawResponse string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded, retry after %v", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded", e.Provider)
}

// retryableError marks transient failures worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

func isRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "429")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
