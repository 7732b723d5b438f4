// Package retry runs an attempt function under a bounded or unbounded
// budget. The blocking search, fetch and model paths all share it.
package retry

import (
	"context"
	"time"
)

// Sleeper pauses between attempts. Tests substitute a recorder.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RealSleeper waits on a timer and honours context cancellation.
func RealSleeper() Sleeper { return realSleeper{} }

// Decision classifies the result of one attempt.
type Decision int

const (
	// Stop returns the attempt's value and error as-is.
	Stop Decision = iota
	// Retry sleeps and tries again while the budget allows.
	Retry
)

// Policy bounds the loop. Attempts <= 0 means unbounded.
type Policy struct {
	Attempts int
	// Delay returns the pause before the next attempt, given the attempt
	// number (1-based) that just failed and its error.
	Delay   func(attempt int, err error) time.Duration
	Sleeper Sleeper
	// OnRetry is called before each sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func Fixed(d time.Duration) func(int, error) time.Duration {
	return func(int, error) time.Duration { return d }
}

// Outcome reports how the loop ended.
type Outcome[T any] struct {
	Value     T
	Err       error
	Attempts  int
	Exhausted bool
}

// Do calls attempt until classify returns Stop or the budget runs out.
// No sleep follows the final attempt. When the budget is exhausted the last
// value and error are returned with Exhausted set.
func Do[T any](
	ctx context.Context,
	p Policy,
	attempt func(ctx context.Context, n int) (T, error),
	classify func(v T, err error) Decision,
) Outcome[T] {
	sleeper := p.Sleeper
	if sleeper == nil {
		sleeper = RealSleeper()
	}

	var out Outcome[T]
	for n := 1; ; n++ {
		out.Value, out.Err = attempt(ctx, n)
		out.Attempts = n
		if classify(out.Value, out.Err) == Stop {
			return out
		}
		if p.Attempts > 0 && n >= p.Attempts {
			out.Exhausted = true
			return out
		}

		var d time.Duration
		if p.Delay != nil {
			d = p.Delay(n, out.Err)
		}
		if p.OnRetry != nil {
			p.OnRetry(n, out.Err, d)
		}
		if err := sleeper.Sleep(ctx, d); err != nil {
			out.Err = err
			return out
		}
	}
}
