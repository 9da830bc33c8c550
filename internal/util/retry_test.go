package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		IsRetryable:  func(error) bool { return true },
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	got, err := Retry(context.Background(), fastRetryConfig(), func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("connection refused")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if got != 42 || attempts != 3 {
		t.Errorf("got %d after %d attempts, want 42 after 3", got, attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	_, err := Retry(context.Background(), fastRetryConfig(), func() (int, error) {
		attempts++
		return 0, errors.New("timeout")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("made %d attempts, want 3", attempts)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	attempts := 0
	_, err := Retry(context.Background(), fastRetryConfig(), func() (int, error) {
		attempts++
		return 0, MarkPermanent(errors.New("no such image"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("permanent error retried %d times, want 1 attempt", attempts)
	}
	if !IsPermanent(err) {
		t.Error("permanent marker lost through Retry")
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, fastRetryConfig(), func() (int, error) {
		return 0, errors.New("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(errors.New("dial tcp: connection refused")) {
		t.Error("connection refused should be transient")
	}
	if !IsTransient(errors.New("Error response from daemon: container is restarting")) {
		t.Error("restarting container should be transient")
	}
	if IsTransient(errors.New("exec: \"docker\": executable file not found in $PATH")) {
		t.Error("missing binary should not be transient")
	}
	if IsTransient(nil) {
		t.Error("nil should not be transient")
	}
	if IsTransient(MarkPermanent(errors.New("timeout"))) {
		t.Error("permanent marker must override pattern match")
	}
}

func TestIsPermanentUnwraps(t *testing.T) {
	inner := errors.New("missing devcontainer.json")
	wrapped := MarkPermanent(inner)
	if !errors.Is(wrapped, inner) {
		t.Error("MarkPermanent should preserve errors.Is")
	}
	if MarkPermanent(nil) != nil {
		t.Error("MarkPermanent(nil) should be nil")
	}
}
