// internal/middleware/resolve.go
//
// Tenant-resolution middleware.
//
// Context
// -------
// Runs the resolver on every request and stores the resolved tenant on
// the request context for downstream handlers.  Resolution failures map
// straight onto the error taxonomy: unknown or suspended tenants are
// 401, unrecognised hosts are 400, and anything else is a 500 whose
// detail is only echoed to the client in dev.
//
// No transaction is opened here; a request that dies in resolution
// costs zero round-trips against any tenant database.
package middleware

import (
	"net/http"

	"github.com/voyantio/voyant/internal/fault"
	"github.com/voyantio/voyant/internal/logger"
	"github.com/voyantio/voyant/internal/tenant"
)

// ResolveTenant wires the resolver in front of next.  devDetail gates
// whether 5xx responses carry the underlying error text.
func ResolveTenant(rs *tenant.Resolver, devDetail bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec, err := rs.Resolve(r.Context(), r)
			if err != nil {
				writeError(w, r, err, devDetail)
				return
			}
			ctx := tenant.WithRecord(r.Context(), rec)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeError maps a core error onto the HTTP edge.
func writeError(w http.ResponseWriter, r *http.Request, err error, devDetail bool) {
	status := fault.Status(err)

	msg := err.Error()
	if status >= 500 {
		logger.For(r.Context()).Errorw("tenant resolution failed", "err", err.Error())
		if !devDetail {
			msg = "internal error"
		}
	}
	http.Error(w, msg, status)
}
