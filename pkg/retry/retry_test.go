package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{Delay: time.Millisecond, MaxAttempts: 5}, func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("attempt %d", attempts)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Once(time.Millisecond), func() error {
		attempts++
		return fmt.Errorf("always fails")
	})

	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.Contains(t, err.Error(), "giving up after 2 attempts")
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, Fixed(5*time.Millisecond), func() error {
		attempts++
		return fmt.Errorf("never succeeds")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Greater(t, attempts, 0)
}

func TestTimerCancelledDropsCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fired := make(chan struct{}, 1)

	Timer(ctx, 10*time.Millisecond, func() { fired <- struct{}{} })
	cancel()

	select {
	case <-fired:
		t.Fatal("timer fired after cancellation")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestTimerFires(t *testing.T) {
	fired := make(chan struct{}, 1)
	Timer(context.Background(), time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}
