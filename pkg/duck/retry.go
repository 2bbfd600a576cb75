package duck

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	maxRetries        = 5
	initialRetryDelay = 50 * time.Millisecond
	maxRetryDelay     = 2 * time.Second
)

// isTransientError reports whether err is a lock or write conflict that is
// worth retrying.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Could not set lock on file") ||
		strings.Contains(errStr, "Conflicting lock") ||
		strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "write-write conflict")
}

// retryWithBackoff retries fn with exponential backoff while it returns a
// transient error. Any other error is returned immediately.
func retryWithBackoff(ctx context.Context, log *slog.Logger, operation string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay
	bo.MaxInterval = maxRetryDelay

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info("duck: operation succeeded after retries", "operation", operation, "attempts", attempt)
			}
			return struct{}{}, nil
		}
		if !isTransientError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		log.Warn("duck: transient error, retrying", "operation", operation, "attempt", attempt, "error", err)
		return struct{}{}, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(maxRetries))
	if err != nil && isTransientError(err) {
		return fmt.Errorf("operation %s failed after %d attempts: %w", operation, attempt, err)
	}
	return err
}
