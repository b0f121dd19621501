package transport

import (
	"context"
	"errors"

	"github.com/vidfetch/vidfetch/internal/engine/types"
	"github.com/vidfetch/vidfetch/internal/utils"
)

// Retry calls fn until it succeeds, fails with a non-retryable error, or the
// attempt budget of runtime runs out. Between attempts it waits the backoff
// delay, stretched to a server-sent Retry-After but never beyond the cap.
// onRetry, if set, is called before each wait.
func Retry(ctx context.Context, runtime *types.RuntimeConfig, label string, onRetry func(), fn func(attempt int) error) error {
	attempts := runtime.GetMaxTaskRetries()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := runtime.RetryDelay(attempt)
			var de *types.DownloadError
			if errors.As(lastErr, &de) && de.RetryAfter > delay {
				delay = min(de.RetryAfter, runtime.GetRetryMaxDelay())
			}
			utils.Debug("%s: retry %d/%d in %v after: %v", label, attempt, attempts-1, delay, lastErr)
			if onRetry != nil {
				onRetry()
			}
			if err := Sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !types.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
