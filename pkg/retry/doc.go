// Package retry provides backoff strategies and a generic retry loop for
// transient failures.
//
// The fetch client picks a strategy per failure class through
// ErrorTypeBackoff: rate-limit and server errors double from a base delay,
// network errors grow by a smaller multiplier, and all of them stop growing at
// the configured cap. Storage sinks and checkpoint writes use Do directly.
//
//	err := retry.Do(func() error {
//		return sink.Put(ctx, rec)
//	}, &retry.Config{
//		MaxAttempts: 3,
//		Backoff:     retry.DefaultExponentialBackoff(),
//		RetryIf:     retry.DefaultRetryIf,
//		Context:     ctx,
//		Logger:      log,
//	})
package retry
