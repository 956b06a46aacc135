package resilience

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ReconnectConfig holds configuration for re-dialing a refused connection
type ReconnectConfig struct {
	MaxAttempts int           // Maximum number of dial attempts
	Backoff     time.Duration // Backoff duration before the first re-dial
	Multiplier  float64       // Backoff multiplier for exponential backoff
	MaxBackoff  time.Duration // Maximum backoff duration
}

// DefaultReconnectConfig returns the handshake re-dial policy for streaming
// sessions. It is shorter than the batch retry policy because a user is
// waiting on the other end.
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  2 * time.Second,
	}
}

// ReconnectFunc is a function that attempts to connect
type ReconnectFunc func(ctx context.Context) error

// Reconnect calls fn until it connects, fails with an error isRetryable
// rejects, or the attempts run out. The last error is returned.
func Reconnect(ctx context.Context, fn ReconnectFunc, config *ReconnectConfig, isRetryable IsRetryableError, logger zerolog.Logger) error {
	if config == nil {
		config = DefaultReconnectConfig()
	}
	retry := &RetryConfig{
		MaxAttempts:       config.MaxAttempts,
		InitialBackoff:    config.Backoff,
		MaxBackoff:        config.MaxBackoff,
		BackoffMultiplier: config.Multiplier,
	}

	attempts := 0
	err := RetryNotify(ctx, func(ctx context.Context) error {
		attempts++
		return fn(ctx)
	}, retry, isRetryable, func(err error, next int, delay time.Duration) {
		logger.Warn().
			Err(err).
			Int("attempt", next).
			Int("max_attempts", config.MaxAttempts).
			Dur("backoff", delay).
			Msg("Connection attempt failed, retrying")
	})
	if err == nil && attempts > 1 {
		logger.Info().Int("attempts", attempts).Msg("Reconnection successful")
	}
	return err
}
