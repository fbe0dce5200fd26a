package executor

import (
	"context"
	"errors"
	"time"
)

// retry runs fn up to maxAttempts times with a 1s-base exponential backoff
// between attempts (spec §4.8: "per-action retry uses a 1s exponential
// backoff for I/O errors"). A context cancellation aborts immediately
// without consuming a retry. maxAttempts <= 1 runs fn exactly once.
func retry(ctx context.Context, maxAttempts int, fn func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Second * time.Duration(1<<uint(attempt-1)) //nolint:gosec // attempt is bounded by maxAttempts, not attacker input

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	return lastErr
}
