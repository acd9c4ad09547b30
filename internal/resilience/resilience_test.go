package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithBackoffSucceedsAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, BackoffFactor: 2, MaxJitter: time.Millisecond}
	attempts := 0
	got, err := WithBackoff(context.Background(), cfg, "test-op", nil, nil, func(ctx context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, attempts)
}

func TestWithBackoffExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, BackoffFactor: 2, MaxJitter: time.Millisecond}
	attempts := 0
	_, err := WithBackoff(context.Background(), cfg, "test-op", nil, nil, func(ctx context.Context) (int, error) {
		attempts++
		return 0, errors.New("permanent")
	})
	require.Error(t, err, "expected an error after exhausting all attempts")
	assert.Equal(t, 2, attempts)
}

func TestWithBackoffHonorsIsRetryable(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, BackoffFactor: 2, MaxJitter: time.Millisecond}
	attempts := 0
	notRetryable := errors.New("do not retry")
	_, err := WithBackoff(context.Background(), cfg, "test-op", nil, func(error) bool { return false }, func(ctx context.Context) (int, error) {
		attempts++
		return 0, notRetryable
	})
	assert.ErrorIs(t, err, notRetryable, "expected the non-retryable error to propagate immediately")
	assert.Equal(t, 1, attempts, "no retry expected for a non-retryable error")
}

func TestWithBackoffRespectsContextCancellation(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialInterval: 50 * time.Millisecond, MaxInterval: 50 * time.Millisecond, BackoffFactor: 1, MaxJitter: 0}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithBackoff(ctx, cfg, "test-op", nil, nil, func(ctx context.Context) (int, error) {
		return 0, errors.New("transient")
	})
	assert.Error(t, err, "expected a cancelled context to abort retrying")
}

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 2, ResetTimeout: time.Hour}, nil)
	failing := func(ctx context.Context) error { return errors.New("boom") }

	cb.Execute(context.Background(), failing)
	assert.Equal(t, StateClosed, cb.CurrentState(), "expected breaker to stay closed after 1 of 2 allowed failures")

	cb.Execute(context.Background(), failing)
	assert.Equal(t, StateOpen, cb.CurrentState(), "expected breaker to open after reaching MaxFailures")

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen, "expected a call while open to be rejected with ErrCircuitOpen")
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: time.Millisecond, HalfOpenMax: 1}, nil)
	cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.CurrentState(), "expected breaker to open after 1 failure with MaxFailures=1")

	time.Sleep(5 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err, "expected the half-open probe to succeed")
	assert.Equal(t, StateClosed, cb.CurrentState(), "expected a successful half-open probe to close the breaker")
}
