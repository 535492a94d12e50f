package ledger

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/kilupskalvis/depot/internal/errs"
	"github.com/kilupskalvis/depot/internal/metrics"
	"github.com/kilupskalvis/depot/internal/store"
)

// RetryConfig bounds how often a write transaction is re-run after losing a race
// on changelist numbering or a branch head.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns the defaults used by NewService.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     250 * time.Millisecond,
		JitterFraction: 0.25,
	}
}

// isRetryable is true for storage races. Business-rule failures are never retried.
func isRetryable(err error) bool {
	var e *errs.Error
	if errors.As(err, &e) {
		return false
	}
	return errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrBusy)
}

func (c *RetryConfig) backoff(attempt int) time.Duration {
	base := float64(c.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(c.MaxBackoff) {
		base = float64(c.MaxBackoff)
	}
	jitter := base * c.JitterFraction * (rand.Float64()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// update runs fn in a write transaction, re-running it when it loses a storage race.
// fn must be safe to call more than once; it may only have effects through tx.
func (s *Service) update(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	attempts := s.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = s.store.Update(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return finish(lastErr)
		}

		metrics.TxRetries.WithLabelValues(op).Inc()
		s.logger.Debug("retrying transaction", "operation", op, "attempt", attempt+1, "error", lastErr)

		if attempt < attempts-1 {
			if err := sleep(ctx, s.retry.backoff(attempt)); err != nil {
				return errs.Internal(err, "%s: retry cancelled", op)
			}
		}
	}

	c := errs.Conflict("%s: concurrent update, gave up after %d attempts", op, attempts)
	c.Err = lastErr
	return c
}
