package utils

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig holds the parameters for the retry strategy.
//
// MaxAttempts counts every call including the first, so MaxAttempts=4 means
// one try plus three retries.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *Logger

	// Retryable decides whether an error is worth another attempt. Nil
	// retries everything.
	Retryable func(error) bool
	// DelayFor may override the computed back-off for a given error, e.g.
	// with a server-supplied Retry-After. Returning 0 keeps the back-off.
	DelayFor func(error) time.Duration
	// Sleep waits for d or until ctx is done. Defaults to SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do executes fn with exponential back-off retry logic. The delay doubles
// after every failed attempt regardless of any override, so the effective
// sequence never decreases unless an override shortens it.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func() error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	delay := r.BaseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		wait := delay
		if r.DelayFor != nil {
			if d := r.DelayFor(lastErr); d > 0 {
				wait = d
			}
		}
		if r.Logger != nil {
			r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
				operationName, attempt, attempts, lastErr, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		delay *= 2
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, lastErr)
}

// SleepContext waits for d, returning ctx.Err() if the context ends first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
