// Package retry implements bounded exponential backoff with jitter.
package retry

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// Config defines retry behavior with exponential backoff.
type Config struct {
	Attempts     int           // Total attempts including the first call
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0; +/- fraction of the delay, prevents thundering herd
}

// DefaultConfig matches the synthesis retry policy defaults:
// 3 attempts, 500ms initial delay doubling up to 5s, 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		Attempts:     3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// RetryableError is implemented by errors that explicitly declare whether
// the failed operation is worth retrying.
type RetryableError interface {
	error
	IsRetryable() bool
}

// IsRetryable reports whether an error is transient. Errors implementing
// RetryableError decide for themselves; otherwise known transient patterns
// are matched on the error text.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r RetryableError
	if ok := asRetryable(err, &r); ok {
		return r.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	patterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"timeout",
		"timed out",
		"temporary failure",
		"rate limit",
		"too many requests",
		"service unavailable",
		"429", "500", "502", "503", "504",
	}
	for _, p := range patterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

func asRetryable(err error, target *RetryableError) bool {
	for err != nil {
		if r, ok := err.(RetryableError); ok {
			*target = r
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func applyJitter(delay time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return delay
	}
	jitter := float64(delay) * factor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// DoWithResult calls fn up to cfg.Attempts times, backing off between
// attempts. Non-retryable errors abort immediately. The second return value
// is the number of attempts actually made. Context cancellation is honored
// during waits and aborts with ctx.Err().
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, int, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var (
		result  T
		lastErr error
	)
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		r, err := fn()
		if err == nil {
			return r, attempt, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return result, attempt, err
		}
		if attempt == cfg.Attempts {
			break
		}

		select {
		case <-time.After(applyJitter(delay, cfg.JitterFactor)):
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		case <-ctx.Done():
			return result, attempt, ctx.Err()
		}
	}

	return result, cfg.Attempts, lastErr
}

// Do is DoWithResult for operations without a result value.
func Do(ctx context.Context, cfg *Config, fn func() error) (int, error) {
	_, attempts, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return attempts, err
}
