package conversation

import (
	"errors"
	"regexp"
	"strconv"
	"time"

	"search-agent/internal/application/port/output"
)

var retryDelayPattern = regexp.MustCompile(`retry_delay\s*{\s*seconds:\s*(\d+)`)

// delayFor picks the pause before the next attempt: the configured delay
// when set, else the provider's suggestion, else a fixed fallback. Server
// errors always wait ServerErrorDelay.
func (a *Agent) delayFor(_ int, err error) time.Duration {
	var se *output.ServerError
	if errors.As(err, &se) {
		return a.cfg.ServerErrorDelay
	}
	if a.cfg.RetryDelay > 0 {
		return a.cfg.RetryDelay
	}
	return suggestedDelay(err)
}

func suggestedDelay(err error) time.Duration {
	var rl *output.RateLimitError
	if errors.As(err, &rl) && rl.RetryDelay > 0 {
		return rl.RetryDelay
	}
	if err != nil {
		if d, ok := ParseRetryDelay(err.Error()); ok {
			return d
		}
	}
	return fallbackRetryDelay
}

// ParseRetryDelay extracts N from "retry_delay { seconds: N }".
func ParseRetryDelay(s string) (time.Duration, bool) {
	m := retryDelayPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
