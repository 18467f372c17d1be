// internal/fault/fault.go
//
// Error taxonomy shared by the tenant core.
//
// Context
// -------
// Every layer of the core classifies its failures into one of six typed
// errors so the layer that *owns* a concern can recognise it cheaply:
//
//   - Auth          – unresolved or non-active tenant (maps to 401).
//   - BadRequest    – unrecognised domain/host (maps to 400).
//   - BreakerOpen   – fail-fast rejection from an open circuit; batch
//     callers treat it as skip-and-continue, never as a hard failure.
//   - Acquisition   – transaction-acquisition timeout; the only class
//     the transaction retrier will re-attempt.
//   - DbUnavailable – dedicated datasource failed preflight; the fleet
//     runner skips the tenant and keeps sweeping.
//   - Provider      – third-party call failed inside the generic
//     breaker; carries provider and tenant identity for triage.
//
// Everything else (business-logic failures included) is propagated to
// the caller untouched.  `Status` maps an error to an HTTP status for
// the edge; unknown errors default to 500.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

//
// Sentinels — usable with errors.Is regardless of wrapping.
//

var (
	ErrAuth          = errors.New("tenant authentication failed")
	ErrBadRequest    = errors.New("unrecognized tenant domain")
	ErrBreakerOpen   = errors.New("circuit breaker open")
	ErrAcquisition   = errors.New("transaction acquisition timed out")
	ErrDbUnavailable = errors.New("dedicated database unavailable")
	ErrProvider      = errors.New("provider call failed")
)

//
// Wrap helpers — attach detail while keeping the sentinel reachable.
//

// Authf builds an Auth error with a formatted detail message.
func Authf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrAuth, args)...)
}

// BadRequestf builds a BadRequest error with a formatted detail message.
func BadRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrBadRequest, args)...)
}

// BreakerOpen reports that the breaker guarding key rejected the call.
func BreakerOpen(key string) error {
	return fmt.Errorf("%w: %s", ErrBreakerOpen, key)
}

// Acquisition wraps a begin-phase timeout so the retrier can spot it.
func Acquisition(err error) error {
	return fmt.Errorf("%w: %v", ErrAcquisition, err)
}

// DbUnavailable wraps a failed preflight for datasource identity dsn.
func DbUnavailable(dsn string, err error) error {
	return fmt.Errorf("%w: datasource %s: %v", ErrDbUnavailable, dsn, err)
}

// ProviderError records which provider failed, and for which tenant.
// TenantID is empty when the call ran outside any tenant scope.
type ProviderError struct {
	Provider string
	TenantID string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.TenantID == "" {
		return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("provider %s (tenant %s): %v", e.Provider, e.TenantID, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrProvider) match a *ProviderError.
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

//
// HTTP mapping
//

// Status maps a core error to the HTTP status the edge should emit.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// prepend builds the fmt.Errorf arg slice with the sentinel first.
func prepend(sentinel error, args []any) []any {
	out := make([]any, 0, len(args)+1)
	out = append(out, sentinel)
	return append(out, args...)
}
