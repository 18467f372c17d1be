// internal/tenant/preflight.go
//
// Dedicated-database preflight guard.
//
// Context
// -------
// Before any dedicated-tenant unit of work begins we run one trivial
// round-trip through the circuit breaker keyed by datasource identity.
// When the datasource is down, its breaker opens and every subsequent
// unit of work for tenants on that datasource fails fast with
// DbUnavailable — without touching the pool, and without one sick
// database dragging down the shared tier or other dedicated tenants.
//
// Batch collaborators (fleet sweeps) rely on DbUnavailable being a
// distinguished error: they skip the tenant and keep sweeping instead
// of aborting the run.
//
// The breaker is keyed purely by datasource URL, not tenant id: two
// tenants sharing one dedicated database share one breaker, because the
// resource is what fails, not the tenant.
//
// Shared-tier tenants never pass through here.
package tenant

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/voyantio/voyant/internal/breaker"
	"github.com/voyantio/voyant/internal/fault"
	"github.com/voyantio/voyant/internal/metrics"
)

// BreakerKeyPrefix namespaces datasource breakers inside the shared
// registry, away from provider breakers.
const BreakerKeyPrefix = "datasource:"

// Preflight gates dedicated work behind per-datasource breakers.
type Preflight struct {
	reg *breaker.Registry
}

// NewPreflight wires the guard to the process-wide breaker registry.
func NewPreflight(reg *breaker.Registry) *Preflight {
	return &Preflight{reg: reg}
}

// Check probes the dedicated handle.  Any failure — fail-fast rejection
// or a probe that actually died — surfaces as fault.ErrDbUnavailable.
func (p *Preflight) Check(ctx context.Context, dsn string, db *sqlx.DB) error {
	b := p.reg.Get(BreakerKeyPrefix + dsn)

	err := b.Do(ctx, func(ctx context.Context) error {
		start := time.Now()
		defer func() { metrics.PreflightSeconds.Observe(time.Since(start).Seconds()) }()

		var one int
		return db.QueryRowxContext(ctx, `SELECT 1`).Scan(&one)
	})
	if err != nil {
		return fault.DbUnavailable(dsn, err)
	}
	return nil
}
