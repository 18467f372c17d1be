// internal/uow/binder.go
//
// Transactional session binder — the single doorway for tenant-scoped
// database work.
//
// Context
// -------
// `WithTenant(ctx, ten, fn)` is the one contract business collaborators
// call.  It:
//
//  1. Routes the tenant to its handle (shared pool or cached dedicated
//     handle) and, for dedicated tenants, runs the breaker-gated
//     preflight first.
//  2. Checks out one connection, bounded by the acquire timeout — this
//     is the only phase whose timeout is retryable.
//  3. Opens a transaction and, as its first statement, binds the tenant
//     id into the `app.tenant_id` session setting.  Every tenant-scoped
//     table carries an RLS policy keyed on that setting, so even a
//     buggy query that forgets its WHERE clause cannot read another
//     tenant's rows.  The binding is transaction-local (`set_config`
//     third argument true) and rolls back atomically with the data.
//  4. Establishes the ambient scope and invokes fn.
//  5. Commits on success; any failure rolls the whole transaction back.
//
// fn must be safe to re-run from scratch: the retrier may restart the
// entire bind+execute sequence after an acquisition timeout.
//
// Notes
// -----
// • The connection checkout context only bounds the pool wait; the
//   transaction itself runs under the caller's context.
// • Oxford commas, two spaces after periods.
package uow

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/voyantio/voyant/internal/fault"
	"github.com/voyantio/voyant/internal/logger"
	"github.com/voyantio/voyant/internal/tenant"
)

// Fn is one unit of tenant-scoped work.  The same tx is also reachable
// through the ambient scope for nested collaborators.
type Fn func(ctx context.Context, tx *sqlx.Tx) error

// Runner binds tenants to RLS-scoped transactions.
type Runner struct {
	conns          *tenant.Conns
	guard          *tenant.Preflight
	acquireTimeout time.Duration
	policy         Policy
}

// New wires the binder to the connection router and preflight guard.
func New(conns *tenant.Conns, guard *tenant.Preflight, acquireTimeout time.Duration, policy Policy) *Runner {
	return &Runner{
		conns:          conns,
		guard:          guard,
		acquireTimeout: acquireTimeout,
		policy:         policy,
	}
}

// WithTenant runs fn inside an isolated, RLS-bound transaction for ten.
// Failure modes: fault.ErrDbUnavailable (failed preflight),
// fault.ErrAcquisition (pool exhausted through every retry), or fn's
// own error, unchanged.
func (r *Runner) WithTenant(ctx context.Context, ten *tenant.Record, fn Fn) error {
	if !ten.Active() {
		return fault.Authf("tenant %s is %s", ten.Name, ten.Status)
	}

	db, err := r.conns.For(ctx, ten)
	if err != nil {
		return err
	}
	if ten.HasDedicated() {
		if err := r.guard.Check(ctx, *ten.DatasourceURL, db); err != nil {
			return err
		}
	}

	return r.withRetry(ctx, func() error {
		return r.runOnce(ctx, ten, db, fn)
	})
}

// runOnce executes one full bind+execute sequence.
func (r *Runner) runOnce(ctx context.Context, ten *tenant.Record, db *sqlx.DB, fn Fn) error {
	// Acquisition phase: the checkout context bounds only the pool
	// wait.  Connx blocks until a connection frees up or the context
	// expires, and the returned connection outlives it.
	actx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	conn, err := db.Connx(actx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err() // caller gone; not an acquisition timeout
		}
		if isAcquisitionErr(err) {
			return fault.Acquisition(err)
		}
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		if isAcquisitionErr(err) && ctx.Err() == nil {
			return fault.Acquisition(err)
		}
		return err
	}

	// First statement in the transaction: bind the RLS session value.
	if _, err := tx.ExecContext(ctx,
		`SELECT set_config('app.tenant_id', $1, true)`, ten.ID); err != nil {
		_ = tx.Rollback()
		return err
	}

	sctx := tenant.WithScope(ctx, &tenant.Scope{Tenant: ten, Tx: tx})
	if err := fn(sctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.For(sctx).Errorw("rollback failed", "err", rbErr)
		}
		return err
	}
	return tx.Commit()
}
