package errors

import (
	"context"
	"fmt"
	"time"
)

// Backoff paces repeated attempts at an archive download. Only network
// failures are repeated: a refused connection, a cut body, a 429 or a 5xx.
type Backoff struct {
	// Attempts is the total number of tries, at least one
	Attempts int
	// Base is the first delay; it doubles on every further try
	Base time.Duration
	// Max caps every delay, including one a server asked for
	Max time.Duration
}

// DefaultBackoff returns the pacing used for artwork archives
func DefaultBackoff() Backoff {
	return Backoff{
		Attempts: 4,
		Base:     time.Second,
		Max:      15 * time.Second,
	}
}

// Delay returns the wait after failed try n (counting from zero). A
// Retry-After sent with err replaces the doubling.
func (b Backoff) Delay(n int, err error) time.Duration {
	delay := b.Base
	for i := 0; i < n && delay < b.Max; i++ {
		delay *= 2
	}
	if appErr, ok := asAppError(err); ok && appErr.RetryAfter > 0 {
		delay = appErr.RetryAfter
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}

// Retry calls fn until it succeeds, fails in a way another try cannot fix,
// or the attempts run out. fn receives the try number.
func (b Backoff) Retry(ctx context.Context, fn func(attempt int) error) error {
	attempts := max(b.Attempts, 1)

	var err error
	for n := 0; n < attempts; n++ {
		if err = fn(n); err == nil {
			return nil
		}
		if !IsNetworkError(err) || !IsRetryable(err) {
			return err
		}
		if n == attempts-1 {
			break
		}

		timer := time.NewTimer(b.Delay(n, err))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("download cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}
