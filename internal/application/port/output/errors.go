package output

import (
	"errors"
	"fmt"
	"time"
)

var ErrSearchRateLimited = errors.New("search provider rate limited")

// RateLimitError is returned by LLM providers on HTTP 429 or quota errors.
// RetryDelay is zero when the provider suggested none.
type RateLimitError struct {
	RetryDelay time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryDelay > 0 {
		return fmt.Sprintf("rate limited (retry in %s): %v", e.RetryDelay, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ServerError marks a transient 5xx failure on the provider side.
type ServerError struct {
	StatusCode int
	Err        error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %v", e.StatusCode, e.Err)
}

func (e *ServerError) Unwrap() error { return e.Err }
