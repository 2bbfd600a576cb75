package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"
	"github.com/malbeclabs/rwe/pkg/metrics"
	"github.com/openai/openai-go"
)

const (
	DefaultMaxAttempts = 3
	DefaultLLMTimeout  = 120 * time.Second

	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 8 * time.Second
)

// IsRetryable reports whether err is worth retrying: rate limits, server
// errors and network failures are; client errors and cancellation are not.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	status := 0
	var anthropicErr *anthropic.Error
	var openaiErr *openai.Error
	switch {
	case errors.As(err, &anthropicErr):
		status = anthropicErr.StatusCode
	case errors.As(err, &openaiErr):
		status = openaiErr.StatusCode
	default:
		// Network errors (no API response) are generally retryable
		slog.WarnContext(ctx, "llm network error, will retry", "error", err)
		return true
	}
	return status == 429 || status >= 500
}

// completeWithRetry runs call with a per-attempt timeout, retrying
// transient failures. The returned error wraps ErrBackend.
func completeWithRetry(ctx context.Context, log *slog.Logger, provider string, timeout time.Duration, maxAttempts int, call func(ctx context.Context) (string, error)) (string, error) {
	if timeout <= 0 {
		timeout = DefaultLLMTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay
	bo.MaxInterval = maxRetryDelay

	attempt := 0
	text, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		text, err := call(callCtx)
		if err == nil {
			metrics.LLMCallsTotal.WithLabelValues(provider, "success").Inc()
			log.Debug("llm: call completed", "provider", provider, "attempt", attempt, "duration", time.Since(start))
			return text, nil
		}
		metrics.LLMCallsTotal.WithLabelValues(provider, "error").Inc()
		if ctx.Err() != nil || !IsRetryable(ctx, err) {
			return "", backoff.Permanent(err)
		}
		log.Warn("llm: transient error, retrying", "provider", provider, "attempt", attempt, "error", err)
		return "", err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(maxAttempts)))
	if err != nil {
		return "", fmt.Errorf("%w: %s call failed after %d attempt(s): %w", ErrBackend, provider, attempt, err)
	}
	return text, nil
}
