// Package retry provides retry utilities with exponential backoff for transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrMaxAttemptsExceeded is returned when the attempt budget is exhausted
	ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")
	// ErrContextCancelled is returned when the context is cancelled during retry
	ErrContextCancelled = errors.New("context cancelled during retry")
)

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts is the attempt budget, including the initial attempt.
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// Multiplier is the exponential backoff multiplier.
	Multiplier float64
	// IsRetryable decides whether an error is worth another attempt.
	// A nil IsRetryable retries every error.
	IsRetryable func(error) bool
}

// DefaultPolicy returns a bounded default policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// normalize fills zero fields with safe defaults.
func (p Policy) normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2.0
	}
	return p
}

// Delay returns the backoff delay preceding the given retry attempt
// (attempt 1 is the first retry).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}

// Do executes fn under the policy. It returns nil on the first success,
// the error unchanged when it is not retryable, and a wrapped
// ErrMaxAttemptsExceeded when the budget runs out.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	policy = policy.normalize()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if policy.IsRetryable != nil && !policy.IsRetryable(err) {
			return err
		}

		// No sleep after the final attempt.
		if attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(policy.Delay(attempt)):
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, policy.MaxAttempts, lastErr)
}
