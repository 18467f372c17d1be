// internal/tenant/context.go
//
// Ambient tenant context.
//
// Context
// -------
// Two context keys live here, one per stage of a unit of work:
//
//   - resolved tenant – set by the resolution middleware as soon as the
//     request is mapped to a tenant, before any database work.
//   - scope           – set by the transactional binder; carries the
//     tenant *and* the transaction handle bound to its RLS session
//     variable.  Nested collaborators read it instead of threading the
//     handle through every signature.
//
// Both ride on context.Context, the runtime-native per-unit mechanism,
// so two concurrent requests can never observe each other's values and
// nothing survives the unit of work.
//
// Notes
// -----
// • Scope is immutable once stored; collaborators must not mutate it.
// • Oxford commas, two spaces after periods.
package tenant

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/voyantio/voyant/internal/logger"
)

type recordKey struct{}
type scopeKey struct{}

//
// Resolved tenant (pre-transaction)
//

// WithRecord stores the resolved tenant on ctx.
func WithRecord(ctx context.Context, r *Record) context.Context {
	return context.WithValue(ctx, recordKey{}, r)
}

// RecordFromContext returns the resolved tenant, if any.
func RecordFromContext(ctx context.Context) (*Record, bool) {
	r, ok := ctx.Value(recordKey{}).(*Record)
	return r, ok
}

//
// Transactional scope
//

// Scope is the ambient state of one unit of work: the active tenant and
// the transaction already bound to its session variable.
type Scope struct {
	Tenant *Record
	Tx     *sqlx.Tx
}

// WithScope stores the scope on ctx for the duration of one transaction.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext returns the ambient scope, if inside a unit of work.
func ScopeFromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok
}

// MustScope returns the ambient scope or panics.  Use only in
// collaborators that are documented to run inside WithTenant.
func MustScope(ctx context.Context) *Scope {
	s, ok := ScopeFromContext(ctx)
	if !ok {
		panic("tenant: no ambient scope; caller must run inside WithTenant")
	}
	return s
}

// IDFromContext returns the active tenant id, preferring the
// transactional scope over the merely-resolved record.
func IDFromContext(ctx context.Context) (string, bool) {
	if s, ok := ScopeFromContext(ctx); ok {
		return s.Tenant.ID, true
	}
	if r, ok := RecordFromContext(ctx); ok {
		return r.ID, true
	}
	return "", false
}

// Log lines inside a unit of work carry the tenant id automatically.
func init() {
	logger.RegisterExtractor(func(ctx context.Context) (string, string, bool) {
		id, ok := IDFromContext(ctx)
		return "tenant_id", id, ok
	})
}
