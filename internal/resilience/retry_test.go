package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(context.Context) error {
		attempts++
		return nil
	}, fastConfig(3), nil)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_FailureThenSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, fastConfig(3), nil)

	if err != nil {
		t.Errorf("Expected no error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	persistent := errors.New("persistent error")
	err := Retry(context.Background(), func(context.Context) error {
		attempts++
		return persistent
	}, fastConfig(3), func(error) bool { return true })

	if !errors.Is(err, persistent) {
		t.Errorf("Expected last error to propagate, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("non-retryable error")
	}, fastConfig(3), func(error) bool { return false })

	if err == nil {
		t.Error("Expected error")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestRetryNotify_ReportsDelays(t *testing.T) {
	cfg := &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    2 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}

	var delays []time.Duration
	var nexts []int
	_ = RetryNotify(context.Background(), func(context.Context) error {
		return errors.New("overloaded")
	}, cfg, nil, func(_ error, next int, delay time.Duration) {
		nexts = append(nexts, next)
		delays = append(delays, delay)
	})

	if len(delays) != 2 {
		t.Fatalf("Expected 2 retry notifications, got %d", len(delays))
	}
	if delays[0] != 2*time.Millisecond || delays[1] != 4*time.Millisecond {
		t.Errorf("Expected delays [2ms 4ms], got %v", delays)
	}
	if nexts[0] != 1 || nexts[1] != 2 {
		t.Errorf("Expected next attempts [1 2], got %v", nexts)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Hour,
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 2.0,
	}

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, func(context.Context) error {
			attempts++
			return errors.New("server error")
		}, cfg, nil)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled in error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry did not return after cancellation")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestDefaultRetryConfig_PowersOfTwo(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", cfg.MaxAttempts)
	}
	for attempt, want := range []time.Duration{time.Second, 2 * time.Second} {
		got := CalculateBackoff(attempt, cfg.InitialBackoff, cfg.MaxBackoff, cfg.BackoffMultiplier)
		if got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"connection reset", errors.New("read: Connection reset by peer"), true},
		{"eof", errors.New("unexpected EOF"), true},
		{"i/o timeout", errors.New("read tcp: i/o timeout"), true},
		{"cancelled", context.Canceled, false},
		{"other error", errors.New("invalid argument"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryableNetworkError(tt.err)
			if result != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{5, 1 * time.Second},
	}

	for _, tt := range tests {
		backoff := CalculateBackoff(tt.attempt, 100*time.Millisecond, time.Second, 2.0)
		if backoff != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, backoff)
		}
	}
}
