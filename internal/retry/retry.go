package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted indicates every attempt failed; it wraps the last error.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounds a retry loop. Delay between attempts doubles each time:
// BaseDelay, 2*BaseDelay, 4*BaseDelay, ...
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the backoff before attempt+1 (attempt is zero-based).
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay << uint(attempt)
}

// Sleeper pauses between attempts; injected so tests run without real sleeps.
type Sleeper func(ctx context.Context, d time.Duration)

// Sleep is the default Sleeper; it returns early on context cancellation.
func Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Do runs fn up to p.MaxAttempts times, sleeping p.Delay(attempt) between
// failures. It returns nil on the first success, ctx.Err() if the context is
// done before a success, and ErrExhausted wrapping the last failure otherwise.
func Do(ctx context.Context, p Policy, sleep Sleeper, fn func(attempt int) error) error {
	if sleep == nil {
		sleep = Sleep
	}
	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(attempt)
		if last == nil {
			return nil
		}
		if attempt < p.MaxAttempts-1 {
			sleep(ctx, p.Delay(attempt))
		}
	}
	return fmt.Errorf("%w: %w", ErrExhausted, last)
}
