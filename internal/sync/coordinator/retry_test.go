package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		Multiplier:      2.0,
		Jitter:          false,
	}
}

func TestRetryer_SucceedsFirstAttempt(t *testing.T) {
	retryer := NewRetryer(testPolicy(), zerolog.Nop())
	calls := 0

	err := retryer.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_EventualSuccess(t *testing.T) {
	retryer := NewRetryer(testPolicy(), zerolog.Nop())
	calls := 0

	err := retryer.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	retryer := NewRetryer(testPolicy(), zerolog.Nop())
	calls := 0

	err := retryer.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("persistent failure")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var retryErr *RetryError
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, 3, retryErr.Attempts)
}

func TestRetryer_NonRetryableStopsImmediately(t *testing.T) {
	retryer := NewRetryer(testPolicy(), zerolog.Nop())
	calls := 0

	err := retryer.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return NewNonRetryableError(errors.New("permanent failure"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_ContextCancellationAbortsWait(t *testing.T) {
	policy := testPolicy()
	policy.InitialInterval = 100 * time.Millisecond
	retryer := NewRetryer(policy, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := retryer.Execute(ctx, func(ctx context.Context) error {
		return errors.New("temporary failure")
	})
	require.Error(t, err)

	var retryErr *RetryError
	require.ErrorAs(t, err, &retryErr)
	assert.ErrorIs(t, retryErr.Err, context.Canceled)
}

func TestRetryer_CalculateBackoff(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		Jitter:          false,
	}
	retryer := NewRetryer(policy, zerolog.Nop())

	assert.Equal(t, 100*time.Millisecond, retryer.calculateBackoff(1))
	assert.Equal(t, 200*time.Millisecond, retryer.calculateBackoff(2))
	assert.Equal(t, 400*time.Millisecond, retryer.calculateBackoff(3))
	assert.Equal(t, 800*time.Millisecond, retryer.calculateBackoff(4))
	assert.Equal(t, time.Second, retryer.calculateBackoff(5), "capped at MaxInterval")
}

func TestRetryer_JitterStaysWithinBounds(t *testing.T) {
	policy := testPolicy()
	policy.Jitter = true
	retryer := NewRetryer(policy, zerolog.Nop())

	for i := 0; i < 50; i++ {
		wait := retryer.calculateBackoff(1)
		assert.GreaterOrEqual(t, wait, 7500*time.Microsecond)
		assert.LessOrEqual(t, wait, 12500*time.Microsecond)
	}
}

func TestRetryableError_Verdicts(t *testing.T) {
	original := errors.New("original failure")

	var r Retryable
	require.ErrorAs(t, NewRetryableError(original), &r)
	assert.True(t, r.IsRetryable())

	require.ErrorAs(t, NewNonRetryableError(original), &r)
	assert.False(t, r.IsRetryable())
}

func TestRetryError_MessageAndUnwrap(t *testing.T) {
	original := errors.New("original failure")
	retryErr := &RetryError{Err: original, Attempts: 3, LastWait: 500 * time.Millisecond}

	assert.Equal(t, "failed after 3 attempts: original failure", retryErr.Error())
	assert.ErrorIs(t, retryErr, original)
}
