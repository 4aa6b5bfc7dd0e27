// Package retry runs an operation with a fixed delay between attempts.
// The signaling clients use constant backoff, never exponential.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Unlimited makes Do retry until the context is cancelled.
const Unlimited = 0

// Config holds retry behavior for one operation.
type Config struct {
	Delay       time.Duration // constant wait between attempts
	MaxAttempts int           // Unlimited (0) retries forever
}

// Fixed returns a config retrying forever with a constant delay.
func Fixed(delay time.Duration) Config {
	return Config{Delay: delay, MaxAttempts: Unlimited}
}

// Once returns a config making a single retry after the delay.
func Once(delay time.Duration) Config {
	return Config{Delay: delay, MaxAttempts: 2}
}

// Do runs fn until it succeeds, the attempt budget is spent, or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if cfg.MaxAttempts != Unlimited && attempt >= cfg.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, lastErr)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(cfg.Delay):
		}
	}
}

// Timer schedules fn once after the delay, bound to ctx. Cancelling ctx
// before the delay elapses drops the call; sessions cancel their timers on
// teardown so no timer acts on stale state.
func Timer(ctx context.Context, delay time.Duration, fn func()) {
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
			fn()
		}
	}()
}
