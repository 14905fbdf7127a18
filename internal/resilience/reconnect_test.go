package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestReconnect_FirstAttemptSucceeds(t *testing.T) {
	var delays []time.Duration
	policy := &ReconnectPolicy{MaxAttempts: 3, Delay: time.Second, Sleep: noSleep(&delays)}

	attempts := 0
	err := Reconnect(context.Background(), func() error {
		attempts++
		return nil
	}, policy)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if len(delays) != 0 {
		t.Errorf("Expected no sleeps, got %d", len(delays))
	}
}

func TestReconnect_ExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	policy := &ReconnectPolicy{MaxAttempts: 3, Delay: 500 * time.Millisecond, Sleep: noSleep(&delays)}

	attempts := 0
	err := Reconnect(context.Background(), func() error {
		attempts++
		return errors.New("dial failed")
	}, policy)

	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	// No sleep after the final attempt.
	if len(delays) != 2 {
		t.Errorf("Expected 2 sleeps, got %d", len(delays))
	}
}

func TestReconnect_FixedDelay(t *testing.T) {
	var delays []time.Duration
	policy := &ReconnectPolicy{
		MaxAttempts: 3,
		Delay:       time.Second,
		Multiplier:  1.0,
		Sleep:       noSleep(&delays),
	}

	_ = Reconnect(context.Background(), func() error {
		return errors.New("dial failed")
	}, policy)

	for i, d := range delays {
		if d != time.Second {
			t.Errorf("Sleep %d: expected 1s, got %v", i, d)
		}
	}
}

func TestReconnect_ExponentialDelayCapped(t *testing.T) {
	var delays []time.Duration
	policy := &ReconnectPolicy{
		MaxAttempts: 4,
		Delay:       time.Second,
		Multiplier:  2.0,
		MaxDelay:    2 * time.Second,
		Sleep:       noSleep(&delays),
	}

	_ = Reconnect(context.Background(), func() error {
		return errors.New("dial failed")
	}, policy)

	expected := []time.Duration{time.Second, 2 * time.Second, 2 * time.Second}
	if len(delays) != len(expected) {
		t.Fatalf("Expected %d sleeps, got %d", len(expected), len(delays))
	}
	for i := range expected {
		if delays[i] != expected[i] {
			t.Errorf("Sleep %d: expected %v, got %v", i, expected[i], delays[i])
		}
	}
}

func TestReconnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Reconnect(ctx, func() error {
		attempts++
		return errors.New("dial failed")
	}, &ReconnectPolicy{MaxAttempts: 3, Delay: time.Second})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 0 {
		t.Errorf("Expected no attempts after cancellation, got %d", attempts)
	}
}

func TestReconnect_EventualSuccess(t *testing.T) {
	var delays []time.Duration
	policy := &ReconnectPolicy{MaxAttempts: 3, Delay: time.Second, Sleep: noSleep(&delays)}

	attempts := 0
	err := Reconnect(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("dial failed")
		}
		return nil
	}, policy)

	if err != nil {
		t.Errorf("Expected success on third attempt, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}
