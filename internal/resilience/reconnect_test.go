package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fastReconnect() *ReconnectConfig {
	return &ReconnectConfig{MaxAttempts: 3, Backoff: time.Millisecond, Multiplier: 2, MaxBackoff: 5 * time.Millisecond}
}

func TestReconnect_SucceedsAfterRefusal(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	}, fastReconnect(), IsRetryableNetworkError, zerolog.Nop())

	if err != nil {
		t.Errorf("Expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_PermanentErrorStops(t *testing.T) {
	attempts := 0
	permanent := errors.New("bad api key")
	err := Reconnect(context.Background(), func(ctx context.Context) error {
		attempts++
		return permanent
	}, fastReconnect(), IsRetryableNetworkError, zerolog.Nop())

	if !errors.Is(err, permanent) {
		t.Errorf("Expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestReconnect_GivesUp(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("connection reset by peer")
	}, fastReconnect(), IsRetryableNetworkError, zerolog.Nop())

	if err == nil {
		t.Error("Expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &ReconnectConfig{MaxAttempts: 5, Backoff: time.Hour, Multiplier: 1, MaxBackoff: time.Hour}

	attempts := 0
	err := Reconnect(ctx, func(ctx context.Context) error {
		attempts++
		cancel()
		return errors.New("connection refused")
	}, cfg, IsRetryableNetworkError, zerolog.Nop())

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}
