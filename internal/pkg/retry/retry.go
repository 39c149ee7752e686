// Package retry implements the bounded-attempt retry loop used around every
// remote call. Failures default to retryable; wrap an error with Permanent to
// stop the loop immediately (validation rejections, explicit business faults).
package retry

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Policy bounds one retry loop. Backoff doubles after each attempt when
// Multiplier is 2; a Multiplier of 1 (or 0) keeps it fixed.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	Multiplier  float64
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do gives up without consuming further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the Permanent marker.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs op up to p.MaxAttempts times, sleeping between attempts. It returns
// nil on the first success, the unwrapped cause when op fails permanently, and
// the last error once attempts are exhausted. Context cancellation aborts the
// wait and surfaces ctx.Err().
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if p.Multiplier > 1 {
			backoff = time.Duration(float64(backoff) * p.Multiplier)
		}
	}
	return errors.Wrapf(lastErr, "giving up after %d attempts", attempts)
}
