// Package retry wraps fallible operations with bounded, linearly backed-off
// retries. The backoff is deliberately linear, not exponential: the upstream
// market-data gateway rate-limits by request cadence, and spacing attempts at
// baseDelay, 2*baseDelay, ... matches the load profile it expects.
package retry

import (
	"context"
	"log"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
)

// Do calls fn up to maxAttempts times. After the n-th failure (1-based) it
// waits baseDelay*n before the next attempt. It returns nil on the first
// success, ctx.Err() if cancelled while waiting, and the last error once
// attempts are exhausted.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if attempt == maxAttempts {
			log.Printf("retry: giving up after %d attempts: %v", maxAttempts, err)
			break
		}

		wait := baseDelay * time.Duration(attempt)
		log.Printf("retry: attempt %d/%d failed: %v (retrying in %s)", attempt, maxAttempts, err, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return err
}
