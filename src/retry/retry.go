// Package retry is the single retry/backoff helper shared by every
// outbound exchange call.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	logger "github.com/sirupsen/logrus"
)

// Policy configures exponential backoff for one class of calls.
type Policy struct {
	Name            string
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Denylist holds error codes that are never retried.
	Denylist map[int]struct{}
}

// coded is implemented by errors carrying an upstream error code.
type coded interface {
	ErrorCode() int
}

// retryable lets an error opt out of retries explicitly.
type retryable interface {
	Retryable() bool
}

// WithMaxAttempts returns a copy of the policy with a different attempt budget.
func (p Policy) WithMaxAttempts(n uint64) Policy {
	p.MaxAttempts = n
	return p
}

// Permanent reports whether err must not be retried under this policy.
// A per-call timeout is not permanent; only the caller's context ends
// the retries, and Do checks that separately.
func (p Policy) Permanent(err error) bool {
	if err == nil {
		return false
	}
	var c coded
	if errors.As(err, &c) {
		if _, denied := p.Denylist[c.ErrorCode()]; denied {
			return true
		}
	}
	var r retryable
	if errors.As(err, &r) && !r.Retryable() {
		return true
	}
	return false
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		exp.Multiplier = p.Multiplier
	}
	exp.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, attempts-1), ctx)
}

// Do runs op until it succeeds, returns a permanent error, the attempt
// budget is spent, or ctx is done. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || p.Permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx), func(err error, wait time.Duration) {
		logger.WithFields(map[string]interface{}{
			"policy":  p.Name,
			"attempt": attempt,
			"wait":    wait.String(),
		}).WithError(err).Warn("retrying after error")
	})
	return err
}
