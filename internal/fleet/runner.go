// internal/fleet/runner.go
//
// Fleet runner for periodic all-tenant maintenance sweeps.
//
// Context
// -------
// `ForEach` loads the matching tenant list once, then runs the handler
// for each tenant under a bounded-concurrency limiter.  Every
// invocation is automatically wrapped in the transactional binder, so
// handlers run inside an isolated, RLS-bound transaction and read the
// ambient scope like any other collaborator.
//
// Failure policy, per tenant:
//
//   - DbUnavailable / BreakerOpen – the tenant's datasource is down;
//     skip immediately and keep sweeping.  Retrying would just hammer
//     an open breaker.
//   - anything else, StopOnError set – abort the whole sweep on the
//     first failure, no retries.
//   - anything else – retry with exponential backoff up to MaxAttempts;
//     after exhaustion, log the final failure and move on.
//
// One tenant's persistent failure must never block the others.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
package fleet

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/voyantio/voyant/internal/fault"
	"github.com/voyantio/voyant/internal/logger"
	"github.com/voyantio/voyant/internal/metrics"
	"github.com/voyantio/voyant/internal/tenant"
	"github.com/voyantio/voyant/internal/uow"
)

// Handler is invoked once per tenant, inside that tenant's transaction.
type Handler func(ctx context.Context, ten *tenant.Record) error

// Options selects and paces one sweep.  Zero values inherit the runner
// defaults.
type Options struct {
	Status      *tenant.Status
	Dedicated   *bool
	Concurrency int
	StopOnError bool
	MaxAttempts int
	BaseBackoff time.Duration
}

// Defaults carries the configured sweep defaults.
type Defaults struct {
	Concurrency int
	MaxAttempts int
	BaseBackoff time.Duration
}

// Runner iterates tenants for maintenance sweeps.
type Runner struct {
	db       *sqlx.DB // control plane, for the tenant listing
	binder   *uow.Runner
	defaults Defaults
}

// New builds a fleet runner over the control-plane pool and the
// transactional binder.
func New(db *sqlx.DB, binder *uow.Runner, defaults Defaults) *Runner {
	return &Runner{db: db, binder: binder, defaults: defaults}
}

// ForEach sweeps every tenant matching opts.  Returns nil unless
// StopOnError aborted the sweep or the tenant listing itself failed.
func (r *Runner) ForEach(ctx context.Context, opts Options, handler Handler) error {
	opts = r.fill(opts)

	tenants, err := tenant.All(ctx, r.db, tenant.Filter{
		Status:    opts.Status,
		Dedicated: opts.Dedicated,
	})
	if err != nil {
		return err
	}

	var processed, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i := range tenants {
		ten := &tenants[i]
		g.Go(func() error {
			err := r.processOne(gctx, ten, opts, handler)
			processed.Add(1)
			metrics.FleetProcessedTotal.Inc()

			switch {
			case err == nil:
				return nil
			case errors.Is(err, fault.ErrDbUnavailable) || errors.Is(err, fault.ErrBreakerOpen):
				skipped.Add(1)
				logger.For(gctx).Warnw("tenant skipped, datasource unavailable",
					"tenant", ten.Name, "err", err.Error())
				return nil
			case opts.StopOnError:
				return err
			default:
				failed.Add(1)
				metrics.FleetFailedTotal.Inc()
				logger.For(gctx).Errorw("tenant failed after final attempt",
					"tenant", ten.Name, "attempts", opts.MaxAttempts, "err", err.Error())
				return nil
			}
		})
	}

	sweepErr := g.Wait()
	logger.For(ctx).Infow("fleet sweep complete",
		"processed", processed.Load(),
		"skipped", skipped.Load(),
		"failed", failed.Load(),
		"total", len(tenants),
	)
	return sweepErr
}

// Connectivity is a sweep handler that exercises each tenant's full
// transaction path: routing, preflight, session binding, and one
// round-trip.  Ops trigger it after incidents to warm handles and
// surface datasources that came back broken.
func Connectivity(ctx context.Context, _ *tenant.Record) error {
	s := tenant.MustScope(ctx)
	var one int
	return s.Tx.QueryRowxContext(ctx, `SELECT 1`).Scan(&one)
}

// processOne runs the handler for one tenant with backoff retries.
func (r *Runner) processOne(ctx context.Context, ten *tenant.Record, opts Options, handler Handler) error {
	backoff := opts.BaseBackoff

	var err error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		err = r.binder.WithTenant(ctx, ten, func(ctx context.Context, _ *sqlx.Tx) error {
			return handler(ctx, ten)
		})
		if err == nil {
			return nil
		}
		// An unavailable datasource is a skip, never a retry.
		if errors.Is(err, fault.ErrDbUnavailable) || errors.Is(err, fault.ErrBreakerOpen) {
			return err
		}
		// An aborting sweep fails on first error; backing off first
		// would just delay the abort.
		if opts.StopOnError {
			return err
		}
		if attempt == opts.MaxAttempts {
			break
		}
		logger.For(ctx).Warnw("tenant handler failed, backing off",
			"tenant", ten.Name, "attempt", attempt, "backoff", backoff.String(),
			"err", err.Error())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (r *Runner) fill(opts Options) Options {
	if opts.Concurrency == 0 {
		opts.Concurrency = r.defaults.Concurrency
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = r.defaults.MaxAttempts
	}
	if opts.BaseBackoff == 0 {
		opts.BaseBackoff = r.defaults.BaseBackoff
	}
	return opts
}
