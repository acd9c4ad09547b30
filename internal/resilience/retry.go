package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryConfig is the exponential-backoff policy for one class of external
// call. The fixed parameters (base 500ms, factor 2, cap 8s, max 5
// attempts) are exposed as DefaultRetryConfig; oracle calls get a
// gentler policy via OracleRetryConfig, mirroring the distinction
// between ServiceRetryConfig and LLMRetryConfig.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	BackoffFactor   float64
	MaxJitter       time.Duration
}

// DefaultRetryConfig implements fixed retry parameters for
// forecast, deployer and queue calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     8 * time.Second,
		BackoffFactor:   2.0,
		MaxJitter:       250 * time.Millisecond,
	}
}

// OracleRetryConfig is used for LLM oracle calls: same attempt budget,
// gentler backoff factor, matching LLMRetryConfig.
func OracleRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     8 * time.Second,
		BackoffFactor:   1.5,
		MaxJitter:       500 * time.Millisecond,
	}
}

// WithBackoff runs fn, retrying transient errors (those for which
// isRetryable returns true, or when isRetryable is nil) with jittered
// exponential backoff until cfg.MaxAttempts is exhausted or ctx is done.
func WithBackoff[T any](ctx context.Context, cfg RetryConfig, operation string, logger *zap.Logger, isRetryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 && logger != nil {
				logger.Info("operation succeeded after retry",
					zap.String("operation", operation), zap.Int("attempt", attempt+1))
			}
			return result, nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return zero, err
		}

		backoff := calculateBackoff(attempt, cfg)
		if logger != nil {
			logger.Warn("operation failed, retrying",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", cfg.MaxAttempts),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", operation, cfg.MaxAttempts, lastErr)
}

func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	backoff := float64(cfg.InitialInterval) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if backoff > float64(cfg.MaxInterval) {
		backoff = float64(cfg.MaxInterval)
	}
	jitter := time.Duration(rand.Float64() * float64(cfg.MaxJitter))
	return time.Duration(backoff) + jitter
}
