package sqlbridge

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls retry strategy.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Jitter      bool
	MaxElapsed  time.Duration
}

// DefaultRetryPolicy is used when Config.Retry is left zero.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  time.Second,
		Jitter:      true,
	}
}

// backOff maps the policy onto an exponential backoff. MaxAttempts
// counts attempts, so the wrapper allows MaxAttempts-1 retries.
func (pol RetryPolicy) backOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	if pol.BaseBackoff > 0 { bo.InitialInterval = pol.BaseBackoff }
	if pol.MaxBackoff > 0 { bo.MaxInterval = pol.MaxBackoff }
	bo.MaxElapsedTime = pol.MaxElapsed
	if !pol.Jitter { bo.RandomizationFactor = 0 }
	bo.Reset()
	if pol.MaxAttempts > 0 {
		return backoff.WithMaxRetries(bo, uint64(pol.MaxAttempts-1))
	}
	return bo
}

// retryWithPolicy retries op according to policy. classify decides
// which failures are worth another attempt; everything else is
// permanent and returned as-is.
func retryWithPolicy(ctx context.Context, pol RetryPolicy, op func() error, classify func(error) ErrorClass) error {
	if pol.MaxAttempts <= 0 { pol.MaxAttempts = 1 }
	wrapped := func() error {
		if err := ctx.Err(); err != nil { return backoff.Permanent(err) }
		err := op()
		if err == nil { return nil }
		if !retryableClass(classify(err)) { return backoff.Permanent(err) }
		return err
	}
	return backoff.Retry(wrapped, backoff.WithContext(pol.backOff(), ctx))
}

// Retry runs op under the policy, using the package error
// classification to decide which failures earn another attempt. Hosts
// use it for database work that runs outside a pool, like migrations
// at boot.
func Retry(ctx context.Context, pol RetryPolicy, op func() error) error {
	return retryWithPolicy(ctx, pol, op, Classify)
}
