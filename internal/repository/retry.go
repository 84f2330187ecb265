package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds startup retries: the delay starts at BaseDelay,
// doubles after each failure up to MaxDelay, and gives up after
// MaxRetries retries.
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries uint64
}

// DefaultRetryPolicy is used for zero-valued fields.
var DefaultRetryPolicy = RetryPolicy{
	BaseDelay:  time.Second,
	MaxDelay:   15 * time.Second,
	MaxRetries: 5,
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultRetryPolicy.BaseDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay < base {
		maxDelay = base
	}

	b := retry.NewExponential(base)
	b = retry.WithCappedDuration(maxDelay, b)
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// WithRetry runs fn until it succeeds, fails with a non-transient error,
// or the policy is exhausted. Exhaustion yields an error wrapping
// ErrUnavailable.
func WithRetry(ctx context.Context, policy RetryPolicy, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}

	attempts := 0
	var lastErr error
	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransientStartupError(err) {
			return err
		}

		logger.Warn("database not ready",
			slog.String("op", op),
			slog.Int("attempt", attempts),
			slog.String("error", err.Error()),
		)
		return retry.RetryableError(err)
	})

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case lastErr != nil && isTransientStartupError(lastErr):
		return fmt.Errorf("%w: %s failed after %d attempts: %v", ErrUnavailable, op, attempts, lastErr)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// isTransientStartupError separates failures worth waiting out (server
// still starting, network not up yet) from ones that will never succeed
// (bad credentials, unknown database, rejected DDL).
func isTransientStartupError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	switch code := pgErrorCode(err); {
	case code == pgInvalidPassword, code == pgInvalidAuthorization, code == pgInvalidCatalogName:
		return false
	case strings.HasPrefix(code, "08"):
		// connection_exception class
		return true
	}

	return isConnectionError(err)
}
