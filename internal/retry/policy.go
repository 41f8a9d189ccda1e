// Package retry holds the capped exponential backoff shared by order
// fulfillment and notification delivery, plus helpers for retrying calls to
// upstream services.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// Delay returns min(2^attempt * Base, Cap).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Cap || d <= 0 {
			return p.Cap
		}
	}
	return min(d, p.Cap)
}

// NextAt schedules the attempt that follows the given number of failures:
// Base after the first, doubling after each one after that.
func (p Policy) NextAt(now time.Time, failures int) time.Time {
	return now.Add(p.Delay(failures - 1))
}

func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Transient calls op until it succeeds, returns a non-transient error, or
// maxRetries retries have been spent. Only errors classified transient by
// domain.IsTransient are retried.
func Transient(ctx context.Context, maxRetries int, base time.Duration, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if domain.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(maxRetries, 0))), ctx))
}
