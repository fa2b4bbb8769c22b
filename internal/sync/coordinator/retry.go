package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy controls the backoff schedule around the source extract and
// target merge steps.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
}

// DefaultRetryPolicy is three attempts, one second up to thirty seconds,
// doubling each time, jittered by up to ±25%.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
	}
}

// RetryError reports how many attempts a failed operation consumed.
type RetryError struct {
	Err      error
	Attempts int
	LastWait time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// Retryable lets an error opt out of retrying, e.g. a schema mismatch that
// will never succeed no matter how many times it is retried.
type Retryable interface {
	IsRetryable() bool
}

// RetryableError wraps any error with an explicit retry verdict.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string     { return e.Err.Error() }
func (e *RetryableError) Unwrap() error     { return e.Err }
func (e *RetryableError) IsRetryable() bool { return e.Retryable }

// NewRetryableError marks err as worth retrying.
func NewRetryableError(err error) error { return &RetryableError{Err: err, Retryable: true} }

// NewNonRetryableError marks err as final; Execute will not retry it.
func NewNonRetryableError(err error) error { return &RetryableError{Err: err, Retryable: false} }

// Retryer runs an operation under a RetryPolicy.
type Retryer struct {
	policy RetryPolicy
	logger zerolog.Logger
}

// NewRetryer builds a Retryer around policy, logging attempts through
// logger.
func NewRetryer(policy RetryPolicy, logger zerolog.Logger) *Retryer {
	return &Retryer{policy: policy, logger: logger.With().Str("component", "retryer").Logger()}
}

// Execute runs operation, retrying on retryable failures up to
// policy.MaxAttempts times with jittered exponential backoff between
// attempts. Context cancellation aborts the wait immediately.
func (r *Retryer) Execute(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error
	var lastWait time.Duration

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Debug().Int("attempt", attempt).Dur("total_wait", lastWait).Msg("operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			r.logger.Debug().Int("attempt", attempt).Err(err).Msg("non-retryable error")
			return &RetryError{Err: err, Attempts: attempt, LastWait: lastWait}
		}
		if attempt >= r.policy.MaxAttempts {
			break
		}

		wait := r.calculateBackoff(attempt)
		lastWait += wait
		r.logger.Debug().Int("attempt", attempt).Dur("wait", wait).Err(err).Msg("retrying after error")

		select {
		case <-ctx.Done():
			return &RetryError{Err: ctx.Err(), Attempts: attempt, LastWait: lastWait}
		case <-time.After(wait):
		}
	}

	return &RetryError{Err: lastErr, Attempts: r.policy.MaxAttempts, LastWait: lastWait}
}

func isRetryable(err error) bool {
	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func (r *Retryer) calculateBackoff(attempt int) time.Duration {
	backoff := float64(r.policy.InitialInterval) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if backoff > float64(r.policy.MaxInterval) {
		backoff = float64(r.policy.MaxInterval)
	}
	duration := time.Duration(backoff)
	if r.policy.Jitter && duration > 0 {
		jitter := duration / 4
		duration = duration - jitter + time.Duration(rand.Int63n(int64(jitter*2)+1))
	}
	return duration
}
