package utils

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy describes a bounded retry with a fixed delay between
// attempts. The remote catalog API degrades under load, so small fixed
// delays with a low attempt budget are preferred over exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Retry runs op until it succeeds or the attempt budget is exhausted.
// The last error is returned wrapped with the attempt count. Context
// cancellation is checked between attempts and aborts the wait early.
func Retry(ctx context.Context, policy RetryPolicy, op func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt == policy.MaxAttempts {
			break
		}
		if err := SleepContext(ctx, policy.Delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("failed after %d consecutive attempts: %w", policy.MaxAttempts, lastErr)
}

// SleepContext waits for d or until ctx is cancelled.
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
