package steam

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitedError reports a 429 that survived the retry budget.
// RetryAfter carries the upstream Retry-After directive, or the
// shared cool-down window when the header was absent.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("steam: rate limited, retry after %s", e.RetryAfter)
}

// RetryAfterMs lets callers that only know the error by shape pull
// out the pause length.
func (e *RateLimitedError) RetryAfterMs() int64 {
	return e.RetryAfter.Milliseconds()
}

// TransportError reports unrecoverable I/O or a non-2xx status after
// retries are spent.
type TransportError struct {
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("steam: transport: %v", e.Err)
	}
	return fmt.Sprintf("steam: status %d", e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RetryAfter extracts the rate-limit pause from err, matching either
// the concrete type or anything exposing RetryAfterMs.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	var duck interface{ RetryAfterMs() int64 }
	if errors.As(err, &duck) {
		return time.Duration(duck.RetryAfterMs()) * time.Millisecond, true
	}
	return 0, false
}
