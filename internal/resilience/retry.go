package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts       int           // Total attempts including the first one
	InitialBackoff    time.Duration // Delay before the first retry
	MaxBackoff        time.Duration // Upper bound for a single delay
	BackoffMultiplier float64       // Growth factor between retries
	Jitter            bool          // Add up to 25% random jitter
}

// DefaultRetryConfig returns the remote inference retry policy: three attempts
// in total with delays of 2^attempt seconds (1s, then 2s).
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        4 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// IsRetryableError checks if an error is retryable
type IsRetryableError func(error) bool

// OnRetryFunc is invoked before sleeping ahead of attempt number next (1-based)
type OnRetryFunc func(err error, next int, delay time.Duration)

// Retry executes fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done. The last error is returned.
func Retry(ctx context.Context, fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError) error {
	return RetryNotify(ctx, fn, config, isRetryable, nil)
}

// RetryNotify is Retry with a hook called before every backoff sleep
func RetryNotify(ctx context.Context, fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError, onRetry OnRetryFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := CalculateBackoff(attempt, config.InitialBackoff, config.MaxBackoff, config.BackoffMultiplier)
		if config.Jitter && delay > 0 {
			delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
			if delay > config.MaxBackoff {
				delay = config.MaxBackoff
			}
		}
		if onRetry != nil {
			onRetry(err, attempt+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}

	return lastErr
}

// CalculateBackoff calculates the backoff duration for a given attempt
func CalculateBackoff(attempt int, initialBackoff time.Duration, maxBackoff time.Duration, multiplier float64) time.Duration {
	backoff := time.Duration(float64(initialBackoff) * math.Pow(multiplier, float64(attempt)))
	if maxBackoff > 0 && backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

var transientNetworkMarkers = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"broken pipe",
	"unexpected eof",
	"network is unreachable",
	"no route to host",
	"i/o timeout",
	"tls handshake timeout",
}

// IsRetryableNetworkError reports whether err looks like a dropped or
// refused connection rather than an answer from the remote service.
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientNetworkMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
