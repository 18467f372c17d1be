// internal/breaker/registry.go
//
// Process-wide breaker table plus the generic third-party call surface.
//
// Context
// -------
// One Registry owns every breaker in the process, keyed by resource
// identity ("datasource:<url>", "provider:stripe", …).  Get is
// single-flight via the table mutex: two goroutines asking for the same
// key always share one Breaker, so failure counts never split.
//
// `Call` is the upstream contract for wrapping arbitrary third-party
// work (payment gateway, email transport, object storage).  Failures
// that are not fail-fast rejections come back as *fault.ProviderError
// carrying the provider name and, when the call ran inside a tenant
// scope, the tenant id for triage.
//
// Notes
// -----
// • TenantID is an injected extractor so this package does not import
//   the tenant package (which imports breaker for preflight).
// • Oxford commas, two spaces after periods.
package breaker

import (
	"context"
	"errors"
	"sync"

	"github.com/voyantio/voyant/internal/fault"
)

type Registry struct {
	defaults Config
	clock    Clock

	// TenantID extracts the active tenant id from an ambient context.
	// Wired at bootstrap; nil-safe.
	TenantID func(ctx context.Context) string

	mu    sync.Mutex
	table map[string]*Breaker
}

// NewRegistry builds an empty table with the given per-key defaults.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		defaults: defaults,
		clock:    systemClock{},
		table:    make(map[string]*Breaker),
	}
}

// WithClock swaps the time source for every breaker created afterwards.
func (r *Registry) WithClock(c Clock) *Registry { r.clock = c; return r }

// Get returns the breaker for key, creating it on first use.  The
// overrides apply only at creation time; an existing breaker keeps the
// config it was born with.
func (r *Registry) Get(key string, overrides ...Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.table[key]; ok {
		return b
	}
	cfg := r.defaults
	if len(overrides) > 0 {
		cfg = overrides[0].merged(r.defaults)
	}
	b := New(key, cfg).WithClock(r.clock)
	r.table[key] = b
	return b
}

// Call wraps a third-party invocation in the breaker for name.  A
// rejection surfaces as fault.ErrBreakerOpen; any other failure is
// wrapped in *fault.ProviderError.
func (r *Registry) Call(ctx context.Context, name string, fn func(ctx context.Context) error, overrides ...Config) error {
	err := r.Get(name, overrides...).Do(ctx, fn)
	if err == nil || errors.Is(err, fault.ErrBreakerOpen) {
		return err
	}
	return &fault.ProviderError{
		Provider: name,
		TenantID: r.tenantID(ctx),
		Err:      err,
	}
}

func (r *Registry) tenantID(ctx context.Context) string {
	if r.TenantID == nil {
		return ""
	}
	return r.TenantID(ctx)
}

// Run is the generic value-returning helper over Call.
func Run[T any](ctx context.Context, r *Registry, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Call(ctx, name, func(ctx context.Context) error {
		var inner error
		out, inner = fn(ctx)
		return inner
	})
	return out, err
}
