package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ReconnectPolicy describes a bounded reconnection attempt sequence. The
// policy is plain data so callers can assert on attempt behavior without
// real timers: tests inject a Sleep that records instead of waiting.
type ReconnectPolicy struct {
	MaxAttempts int           // Attempts before giving up
	Delay       time.Duration // Delay before each retry
	Multiplier  float64       // Delay growth factor (1.0 = fixed delay)
	MaxDelay    time.Duration // Ceiling for grown delays

	// Sleep is the wait function between attempts. Nil means a real
	// context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultReconnectPolicy returns the policy used for upstream recognizer
// connections: three quick attempts with a short fixed delay.
func DefaultReconnectPolicy() *ReconnectPolicy {
	return &ReconnectPolicy{
		MaxAttempts: 3,
		Delay:       time.Second,
		Multiplier:  1.0,
		MaxDelay:    10 * time.Second,
	}
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reconnect runs fn until it succeeds or the policy's attempt bound is
// exhausted. Each failed attempt except the last is followed by the policy
// delay. Context cancellation aborts immediately.
func Reconnect(ctx context.Context, fn func() error, policy *ReconnectPolicy) error {
	if policy == nil {
		policy = DefaultReconnectPolicy()
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = contextSleep
	}

	delay := policy.Delay
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = fn()
		if lastErr == nil {
			log.Debug().Int("attempt", attempt).Msg("Reconnection successful")
			return nil
		}

		if attempt < policy.MaxAttempts {
			log.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Int("max_attempts", policy.MaxAttempts).
				Dur("delay", delay).
				Msg("Reconnection attempt failed, retrying")

			if err := sleep(ctx, delay); err != nil {
				return err
			}

			if policy.Multiplier > 1.0 {
				delay = time.Duration(float64(delay) * policy.Multiplier)
				if policy.MaxDelay > 0 && delay > policy.MaxDelay {
					delay = policy.MaxDelay
				}
			}
		}
	}

	return fmt.Errorf("failed to reconnect after %d attempts: %w", policy.MaxAttempts, lastErr)
}
