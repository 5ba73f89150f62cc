package pipeline

import (
	"context"
	"time"

	"github.com/dvloznov/audible-pipeline/internal/domain"
)

// RetryPolicy re-runs a failed stage. Only errors that domain.Retryable
// accepts are retried; schema, format and config errors fail at once.
type RetryPolicy struct {
	Retries int
	Delay   time.Duration
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// retries are spent. onRetry, if set, is called before each wait. Attempts
// are numbered from 1.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error, onRetry func(attempt int, err error)) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt > p.Retries || !domain.Retryable(err) || ctx.Err() != nil {
			return err
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}

		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
