package common

import (
	"context"
	"log/slog"
	"time"

	"github.com/franckalain/foodwise/internal/errors"
)

// RetryOptions bounds WithRetry.
type RetryOptions struct {
	MaxAttempts int
	Delay       time.Duration
	// StepTimeout bounds each attempt; zero leaves ctx as is.
	StepTimeout time.Duration
}

// DefaultRetryOptions allows one retry after a short pause.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts: 2,
		Delay:       250 * time.Millisecond,
		StepTimeout: 30 * time.Second,
	}
}

// WithRetry runs operation until it succeeds, fails with a non-retryable
// error, or MaxAttempts is reached. Only TRANSPORT errors are retried.
// The last error is returned unchanged so callers keep its code.
func WithRetry(ctx context.Context, name string, opts RetryOptions, operation func(ctx context.Context) error) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		err = runAttempt(ctx, opts.StepTimeout, operation)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return errors.NewCanceled(ctx.Err())
		}

		pErr, ok := errors.As(err)
		if !ok || !pErr.Retryable() || attempt == opts.MaxAttempts {
			return err
		}

		slog.Warn("Operation failed, retrying",
			"operation", name,
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"delay", opts.Delay,
			"error", err)

		select {
		case <-ctx.Done():
			return errors.NewCanceled(ctx.Err())
		case <-time.After(opts.Delay):
		}
	}
	return err
}

func runAttempt(ctx context.Context, timeout time.Duration, operation func(ctx context.Context) error) error {
	if timeout <= 0 {
		return operation(ctx)
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return operation(stepCtx)
}
