package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type declaredErr struct {
	retryable bool
}

func (e *declaredErr) Error() string     { return "declared" }
func (e *declaredErr) IsRetryable() bool { return e.retryable }

func fastConfig(attempts int) *Config {
	return &Config{
		Attempts:     attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoWithResult_SucceedsFirstAttempt(t *testing.T) {
	got, attempts, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, attempts)
}

func TestDoWithResult_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	got, attempts, err := DoWithResult(context.Background(), fastConfig(3), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection refused")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, attempts)
}

func TestDoWithResult_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, attempts, err := DoWithResult(context.Background(), fastConfig(3), func() (int, error) {
		calls++
		return 0, errors.New("timeout")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, attempts)
}

func TestDoWithResult_PermanentErrorAbortsImmediately(t *testing.T) {
	calls := 0
	_, attempts, err := DoWithResult(context.Background(), fastConfig(3), func() (int, error) {
		calls++
		return 0, errors.New("invalid api key")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
}

func TestDoWithResult_ContextCancellationDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{Attempts: 3, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, _, err := DoWithResult(ctx, cfg, func() (int, error) {
		return 0, errors.New("503 service unavailable")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("dial tcp: i/o timeout")))
	assert.True(t, IsRetryable(errors.New("HTTP 429 Too Many Requests")))
	assert.False(t, IsRetryable(errors.New("syntax error at position 4")))

	// Errors declaring retryability win over pattern matching.
	assert.True(t, IsRetryable(&declaredErr{retryable: true}))
	assert.False(t, IsRetryable(&declaredErr{retryable: false}))

	// Declared retryability is found through wrapping.
	wrapped := fmt.Errorf("synthesize: %w", &declaredErr{retryable: true})
	assert.True(t, IsRetryable(wrapped))
}
