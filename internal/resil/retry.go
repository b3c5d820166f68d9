// Package resil provides small retry and fallback combinators used around
// OCR engine and language-model backend calls.
package resil

import (
	"context"
	"log/slog"
	"time"
)

// Policy controls Retry behavior. Delay grows by Backoff after each failed
// attempt. A nil Retryable retries every error.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     float64
	Retryable   func(error) bool
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Delay <= 0 {
		p.Delay = time.Second
	}
	if p.Backoff <= 0 {
		p.Backoff = 2.0
	}
	return p
}

// Retry invokes op up to p.MaxAttempts times, sleeping p.Delay·p.Backoff^(n-1)
// between attempts. The sleep is context-aware: cancellation aborts the wait
// and returns ctx.Err. The last failure is returned unchanged.
func Retry[T any](ctx context.Context, p Policy, logger *slog.Logger, op func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p = p.withDefaults()

	var zero T
	var lastErr error
	delay := p.Delay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt < p.MaxAttempts {
			logger.Warn("operation failed, retrying",
				"attempt", attempt,
				"max_attempts", p.MaxAttempts,
				"delay_ms", delay.Milliseconds(),
				"error", err,
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
			delay = time.Duration(float64(delay) * p.Backoff)
		} else {
			logger.Error("operation failed after all attempts",
				"attempts", p.MaxAttempts,
				"error", err,
			)
		}
	}
	return zero, lastErr
}

// Fallback invokes primary; on a retryable failure it invokes secondary with
// the same input and returns its outcome as-is. Secondary failures are not
// retried. A nil retryable treats every error as retryable.
func Fallback[T any](ctx context.Context, logger *slog.Logger, retryable func(error) bool, primary, secondary func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = slog.Default()
	}
	out, err := primary(ctx)
	if err == nil {
		return out, nil
	}
	if retryable != nil && !retryable(err) {
		return out, err
	}
	logger.Warn("primary failed, using fallback", "error", err)
	return secondary(ctx)
}
