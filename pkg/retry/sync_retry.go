// Package retry wraps operations with bounded, exponentially-delayed retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Fixed systemic bounds. The attempt ceiling is deliberately not configurable
// at call time; every wrapped operation gets the same budget.
const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 1000 * time.Millisecond
	defaultMultiplier   = 2
)

// ExhaustedError is returned when every attempt failed. It carries the
// attempt count so callers can tell exhaustion apart from a single failure.
type ExhaustedError struct {
	Label    string
	Attempts int
	Err      error // last attempt's error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation %q failed after %d attempts: %v", e.Label, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err is a retry-exhausted error.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// SleepFunc suspends the calling flow between attempts. Injectable so tests
// can shrink the schedule without sleeping for real seconds.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Policy holds the retry schedule. The zero value is not usable; construct
// with NewPolicy.
type Policy struct {
	maxAttempts int
	delays      []time.Duration // delay before attempts 2..n
	sleep       SleepFunc
}

// NewPolicy returns the systemic retry policy: 3 attempts, delays of 1s then
// 2s between them.
func NewPolicy() *Policy {
	return newPolicy(sleepContext)
}

// NewPolicyWithSleeper returns the systemic policy with a custom sleeper.
func NewPolicyWithSleeper(sleep SleepFunc) *Policy {
	if sleep == nil {
		sleep = sleepContext
	}
	return newPolicy(sleep)
}

func newPolicy(sleep SleepFunc) *Policy {
	delays := make([]time.Duration, defaultMaxAttempts-1)
	d := defaultInitialDelay
	for i := range delays {
		delays[i] = d
		d *= defaultMultiplier
	}
	return &Policy{
		maxAttempts: defaultMaxAttempts,
		delays:      delays,
		sleep:       sleep,
	}
}

// MaxAttempts returns the attempt ceiling.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// DelaySchedule returns the delays applied before attempts 2..n.
func (p *Policy) DelaySchedule() []time.Duration {
	out := make([]time.Duration, len(p.delays))
	copy(out, p.delays)
	return out
}

// TotalDelay returns the worst-case elapsed delay before the final failure
// is reported. Attempt duration itself is not bounded here.
func (p *Policy) TotalDelay() time.Duration {
	var total time.Duration
	for _, d := range p.delays {
		total += d
	}
	return total
}

// Execute runs op until it succeeds or the attempt ceiling is reached.
// No delay before the first attempt. A success is never retried. The policy
// performs no I/O and does not classify errors; that is the caller's job.
func Execute[T any](ctx context.Context, p *Policy, label string, op func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.sleep(ctx, p.delays[attempt-2]); err != nil {
				return zero, err
			}
		}

		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	return zero, &ExhaustedError{Label: label, Attempts: p.maxAttempts, Err: lastErr}
}
