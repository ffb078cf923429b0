package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/archestra-ai/gateway/pkg/config"
	"github.com/archestra-ai/gateway/pkg/errors"
)

// retryUnary wraps an idempotent unary upstream call with capped
// exponential backoff: baseMs·2^n, capped at maxMs, retried up to
// maxRetries times, only for RateLimit, ServerError, and NetworkError
// classifications.
func retryUnary[T any](ctx context.Context, rc config.RetryConfig, op func() (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(rc.BaseMs) * time.Millisecond
	eb.MaxInterval = time.Duration(rc.MaxMs) * time.Millisecond
	eb.Multiplier = 2
	eb.RandomizationFactor = 0

	return backoff.Retry(ctx, func() (T, error) {
		result, err := op()
		if err != nil && !errors.IsRetryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(maxTries(rc.MaxRetries))),
	)
}

// maxTries converts a "maxRetries" count (retries beyond the first
// attempt) into backoff/v5's "max tries" (total attempts including the
// first).
func maxTries(maxRetries int) int {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return maxRetries + 1
}
