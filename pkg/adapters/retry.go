package adapters

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy configures WithRetry. Defaults match §4.2: 3 attempts, base
// 1s, factor 2.
type RetryPolicy struct {
	MaxAttempts uint
	BaseDelay   time.Duration
	Factor      float64
}

// DefaultRetryPolicy is the §4.2 default.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Factor: 2}
}

// WithRetry runs fn under an exponential backoff policy. It MUST only be
// used for FetchContext calls (read-only, always safe to retry) or
// ExecuteAction calls that carry an idempotency key; callers are
// responsible for that precondition (§4.2 — retrying a non-idempotent
// mutating call is a correctness bug this helper cannot detect on its own).
func WithRetry[T any](ctx context.Context, policy RetryPolicy, fn func() (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.BaseDelay
	eb.Multiplier = policy.Factor

	return backoff.Retry(ctx, fn,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(policy.MaxAttempts),
	)
}
