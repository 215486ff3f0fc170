package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maxrelay/internal/models"
)

func fastBackoff(attempts int) *Backoff {
	return NewBackoff(BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  attempts,
	})
}

func TestDefaultBackoffConfig(t *testing.T) {
	cfg := DefaultBackoffConfig()
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.True(t, cfg.Jitter)
}

func TestFromRetryConfig(t *testing.T) {
	cfg := FromRetryConfig(models.RetryConfig{InitialBackoffMs: 250, MaxBackoffMs: 4000, MaxAttempts: 7})
	assert.Equal(t, 250*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 4*time.Second, cfg.MaxDelay)
	assert.Equal(t, 7, cfg.MaxAttempts)

	assert.Equal(t, DefaultBackoffConfig(), FromRetryConfig(models.RetryConfig{}))
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		maxAttempts  int
		wantErr      bool
		wantAttempts int
	}{
		{"succeeds first time", 0, 3, false, 1},
		{"succeeds after retries", 2, 3, false, 3},
		{"gives up after max attempts", 10, 2, true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := fastBackoff(tt.maxAttempts).Retry(context.Background(), func() error {
				attempts++
				if attempts <= tt.failures {
					return errors.New("temporary")
				}
				return nil
			})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantAttempts, attempts)
		})
	}
}

func TestRetryWithPredicate_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	attempts := 0
	err := fastBackoff(5).RetryWithPredicate(context.Background(), func() error {
		attempts++
		return permanent
	}, func(err error) bool { return !errors.Is(err, permanent) })

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancelled(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1, MaxAttempts: 0})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	attempts := 0
	err := b.Retry(ctx, func() error {
		attempts++
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, attempts)
}

func TestWait(t *testing.T) {
	require.NoError(t, fastBackoff(1).Wait(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := NewBackoff(BackoffConfig{InitialDelay: time.Minute, MaxDelay: time.Minute, Multiplier: 1})
	assert.ErrorIs(t, slow.Wait(ctx, 1), context.Canceled)
}

func TestGetNextDelay(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2})

	assert.Equal(t, 10*time.Millisecond, b.GetNextDelay(1))
	assert.Equal(t, 20*time.Millisecond, b.GetNextDelay(2))
	assert.Equal(t, 40*time.Millisecond, b.GetNextDelay(3))
	assert.Equal(t, 50*time.Millisecond, b.GetNextDelay(6))
	assert.Equal(t, 10*time.Millisecond, b.GetNextDelay(0))
}

func TestGetNextDelay_JitterStaysInBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 2, Jitter: true})
	for i := 0; i < 50; i++ {
		d := b.GetNextDelay(3)
		assert.GreaterOrEqual(t, d, 30*time.Millisecond)
		assert.LessOrEqual(t, d, 50*time.Millisecond)
	}
}
