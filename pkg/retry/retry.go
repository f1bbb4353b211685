// Package retry provides a bounded retry combinator for operations that can
// fail transiently, such as unique-key races on insert.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// ErrExhausted is returned, wrapping the last failure, when every attempt
// failed with a retryable error.
var ErrExhausted = errors.New("retries exhausted")

// Policy bounds an Attempt call.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean a single attempt.
	MaxAttempts int
	// Backoff is the base delay between attempts.
	Backoff time.Duration
	// Jitter spreads each delay by up to +/- Jitter.
	Jitter time.Duration
	// Retryable decides whether a failure is worth another attempt. Nil means
	// nothing is retried.
	Retryable func(error) bool
}

// Attempt calls fn until it succeeds, fails with a non-retryable error, the
// attempts run out or ctx is done.
func Attempt(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("retry: nil func")
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.Backoff
	if base <= 0 {
		base = time.Nanosecond
	}

	b := goretry.NewConstant(base)
	if p.Jitter > 0 && p.Jitter < base {
		b = goretry.WithJitter(p.Jitter, b)
	}
	b = goretry.WithMaxRetries(uint64(attempts-1), b)

	var lastRetryable error
	err := goretry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && p.Retryable != nil && p.Retryable(err) {
			lastRetryable = err
			return goretry.RetryableError(err)
		}
		lastRetryable = nil
		return err
	})
	if err != nil && lastRetryable != nil && err == lastRetryable {
		return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
	}
	return err
}
