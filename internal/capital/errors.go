package capital

import (
	"errors"
	"fmt"
	"time"
)

// SessionError indicates authentication failed or the session tokens are
// missing/expired. Callers get one renewal + one retry before it surfaces.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("session error during %s", e.Op)
}

func (e *SessionError) Unwrap() error { return e.Err }

// NetworkError wraps timeouts and connection failures. Retryable.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// BrokerRejection is a terminal 4xx-style refusal from the broker:
// market not tradeable, insufficient funds, unknown deal id. Never retried.
type BrokerRejection struct {
	Epic       string
	StatusCode int
	Reason     string
}

func (e *BrokerRejection) Error() string {
	if e.Epic != "" {
		return fmt.Sprintf("broker rejected %s: %s (status %d)", e.Epic, e.Reason, e.StatusCode)
	}
	return fmt.Sprintf("broker rejection: %s (status %d)", e.Reason, e.StatusCode)
}

// RateLimitError reports an HTTP 429. The client sleeps RetryAfter before
// the next attempt.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// ValidationError reports a malformed request caught before any network
// call. Always terminal for that call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsRetryable reports whether the error class permits another attempt.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	var rlErr *RateLimitError
	return errors.As(err, &netErr) || errors.As(err, &rlErr)
}

// ErrPositionNotFound marks a close on a deal the broker no longer knows.
// Treated as idempotent success by ClosePosition.
var ErrPositionNotFound = errors.New("position not found")
