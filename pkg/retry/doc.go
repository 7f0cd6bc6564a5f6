// Package retry provides exponential backoff retry logic for transient failures.
//
// The enrichment client is the main consumer: each model call gets a bounded number
// of attempts, the delay doubles after every failure and is capped, and callers can
// observe each scheduled retry through Config.OnRetry for logging and metrics.
//
//	cfg := retry.DefaultConfig()
//	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
//	    logger.Warn("model call failed, retrying", "attempt", attempt, "delay", delay, "error", err)
//	}
//	text, err := retry.DoWithResult(ctx, cfg, func(attempt int) (string, error) {
//	    return backend.Generate(ctx, prompt)
//	})
//
// Wrap an error with NonRetryable to stop immediately, e.g. when a response
// arrived but contained nothing usable.
package retry
