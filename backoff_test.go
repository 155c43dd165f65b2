package hrvstr_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hrvstr "github.com/codebymv/HRVSTR-sub001"
)

func TestBackoff_DelayGrowsExponentially(t *testing.T) {
	b := hrvstr.Backoff{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.Equal(t, 200*time.Millisecond, b.Delay(1))
	assert.Equal(t, 400*time.Millisecond, b.Delay(2))
	// Clamped by MaxDelay.
	assert.Equal(t, time.Second, b.Delay(5))
}

func TestBackoff_JitterStaysInBounds(t *testing.T) {
	b := hrvstr.Backoff{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0.2}

	for i := 0; i < 50; i++ {
		d := b.Delay(0)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestBackoff_ZeroValueDisablesDelay(t *testing.T) {
	var b hrvstr.Backoff
	assert.Zero(t, b.Delay(0))
	assert.Zero(t, b.Delay(3))
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	b := hrvstr.Backoff{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := b.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return hrvstr.ErrSourceUnavailable
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	b := hrvstr.Backoff{MaxAttempts: 3, BaseDelay: time.Millisecond}

	boom := errors.New("boom")
	calls := 0
	err := b.Retry(context.Background(), func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	b := hrvstr.Backoff{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := b.Retry(context.Background(), func() error {
		calls++
		return hrvstr.ErrRateLimited
	})
	assert.ErrorIs(t, err, hrvstr.ErrRateLimited)
	assert.Equal(t, 3, calls)
}

func TestRetry_HonorsRateLimitRetryAfter(t *testing.T) {
	b := hrvstr.Backoff{MaxAttempts: 2, BaseDelay: time.Millisecond}

	calls := 0
	start := time.Now()
	err := b.Retry(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &hrvstr.RateLimitedError{Source: "reddit", RetryAfter: 50 * time.Millisecond}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	// The wait respected the limiter's hint, not the 1ms base delay.
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRetry_ContextCancelsWait(t *testing.T) {
	b := hrvstr.Backoff{MaxAttempts: 3, BaseDelay: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- b.Retry(ctx, func() error {
			calls++
			return hrvstr.ErrSourceUnavailable
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("retry did not abort on cancellation")
	}
}

func TestRetry_ZeroValueRunsOnce(t *testing.T) {
	var b hrvstr.Backoff

	calls := 0
	err := b.Retry(context.Background(), func() error {
		calls++
		return hrvstr.ErrSourceUnavailable
	})
	assert.ErrorIs(t, err, hrvstr.ErrSourceUnavailable)
	assert.Equal(t, 1, calls)
}
