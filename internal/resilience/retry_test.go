package resilience

import (
	"errors"
	"testing"
	"time"
)

func fastConfig(maxAttempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       maxAttempts,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Sleep:             func(time.Duration) {},
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(func() error {
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
	err := Retry(func() error {
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

func TestRetry_MaxAttempts(t *testing.T) {
	attempts := 0
	err := Retry(func() error {
		attempts++
		return errors.New("persistent error")
	}, fastConfig(2), nil)

	if err == nil {
		t.Error("Expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	attempts := 0
	err := Retry(func() error {
		attempts++
		return errors.New("fatal error")
	}, fastConfig(3), func(error) bool { return false })

	if err == nil {
		t.Error("Expected error")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{nil, false},
		{errors.New("connection refused"), true},
		{errors.New("dial tcp: i/o timeout"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("invalid credential"), false},
		{errors.New("broken pipe"), true},
	}

	for _, tt := range tests {
		if got := IsRetryableNetworkError(tt.err); got != tt.retryable {
			t.Errorf("IsRetryableNetworkError(%v) = %v, want %v", tt.err, got, tt.retryable)
		}
	}
}
