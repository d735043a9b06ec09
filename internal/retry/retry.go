// Package retry re-invokes fallible upstream calls a bounded number of times.
//
// An operation fails by returning an error. Errors wrapped with Permanent stop
// the loop at once; every other error, including results flagged with
// Invalid, is retried until the attempt budget is spent, and the last error
// is returned.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultMaxAttempts is used when a Policy leaves MaxAttempts unset.
const DefaultMaxAttempts = 3

// ErrInvalidResult marks a structurally invalid upstream result, e.g. a
// completion without choices. It is retried like any transient failure.
var ErrInvalidResult = errors.New("retry: invalid upstream result")

// Policy configures Do.
type Policy struct {
	MaxAttempts int
	// Delay between attempts. Zero retries immediately.
	Delay time.Duration
	// OnRetry, when set, is called before each new attempt.
	OnRetry func(attempt int, err error)
}

// Invalid wraps a description of an unusable result as ErrInvalidResult.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidResult, fmt.Sprintf(format, args...))
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, returns a permanent error, or MaxAttempts
// calls have failed. The returned error is the last one observed.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.Delay > 0 {
		b = backoff.NewConstantBackOff(p.Delay)
	}

	attempt := 1
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, _ time.Duration) {
			if p.OnRetry != nil {
				p.OnRetry(attempt, err)
			}
			attempt++
		}),
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, backoff.Permanent(err)
		}
		return op(ctx)
	}, opts...)
	// A permanent error on the final attempt comes back still wrapped.
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return res, err
}
