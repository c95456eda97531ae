// Package retry provides a bounded retry policy with linear backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how many times an operation is attempted and how long to
// wait between attempts. The wait before attempt n+1 is Step*n.
type Policy struct {
	MaxAttempts int
	Step        time.Duration
	Retryable   func(error) bool
}

// Once is a policy that never retries.
var Once = Policy{MaxAttempts: 1}

// Linear returns a policy with the given attempts and step that retries
// errors accepted by retryable.
func Linear(attempts int, step time.Duration, retryable func(error) bool) Policy {
	return Policy{MaxAttempts: attempts, Step: step, Retryable: retryable}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return p.Step * time.Duration(attempt)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// policy runs out of attempts. onRetry, if non-nil, is called before each
// wait with the attempt that just failed.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(&linear{policy: p}, uint64(attempts-1)), ctx)

	notify := func(err error, _ time.Duration) {
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}

	return backoff.RetryNotify(op, b, notify)
}

// linear implements backoff.BackOff with a wait that grows by a fixed step.
type linear struct {
	policy Policy
	n      int
}

func (l *linear) NextBackOff() time.Duration {
	l.n++
	return l.policy.Delay(l.n)
}

func (l *linear) Reset() { l.n = 0 }
