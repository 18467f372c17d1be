// internal/uow/retrier.go
//
// Acquisition-phase retry policy.
//
// Context
// -------
// Only transaction-acquisition timeouts are retried — a momentarily
// exhausted pool usually frees up within a backoff or two.  The retry
// restarts the *entire* bind+execute sequence, so fn sees a fresh
// transaction with a fresh session binding each attempt.
//
// Business-logic failures are never retried: fn may already have fired
// a non-idempotent side effect (an email, a payment capture) before it
// failed, and replaying it blind would double it.
package uow

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/voyantio/voyant/internal/fault"
	"github.com/voyantio/voyant/internal/logger"
)

// Policy bounds the acquisition retries.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BaseBackoff time.Duration // doubled after every failed attempt
}

// withRetry runs attempt until it succeeds, fails with a
// non-acquisition error, or exhausts the policy.
func (r *Runner) withRetry(ctx context.Context, attempt func() error) error {
	max := r.policy.MaxAttempts
	if max < 1 {
		max = 1
	}
	backoff := r.policy.BaseBackoff

	var err error
	for n := 1; n <= max; n++ {
		err = attempt()
		if err == nil || !errors.Is(err, fault.ErrAcquisition) {
			return err
		}
		if n == max {
			break
		}
		logger.For(ctx).Warnw("transaction acquisition timed out, retrying",
			"attempt", n,
			"backoff", backoff.String(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// Postgres states that mean "the pool or server is saturated right
// now", as opposed to "your SQL is wrong".
const (
	pgTooManyConnections = "53300"
	pgCannotConnectNow   = "57P03"
)

// isAcquisitionErr classifies an error from the checkout/begin phase.
func isAcquisitionErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgTooManyConnections || pgErr.Code == pgCannotConnectNow
	}
	return false
}
