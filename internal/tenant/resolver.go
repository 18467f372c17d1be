// internal/tenant/resolver.go
//
// Request → tenant resolution.
//
// Context
// -------
// Every inbound request identifies its tenant in one of two ways:
//
//  1. An `X-API-Key` header (server-to-server traffic).  Unknown or
//     revoked keys fail Auth; so do keys of non-active tenants.
//  2. Otherwise the Origin header (browsers) or the Host header, which
//     is normalised to canonical `host[:port]` and looked up in the
//     domain-mapping table.  Unknown hosts fail BadRequest — unless the
//     host is a loopback/development pattern and the process runs in
//     dev mode, in which case a default tenant is served (created on
//     first use).
//
// Successful host lookups are cached for a short TTL, so steady-state
// browser traffic costs no control-plane round-trip.  API-key lookups
// are never cached: key revocation must take effect immediately.  The
// status gate runs on every request, cached or not, so a suspension
// propagates within one TTL at worst.
//
// Resolution is otherwise a pure read; the only side effect is the
// one-time dev default creation.  No transaction is opened here, so a
// suspended tenant costs zero round-trips against its own database.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
package tenant

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/voyantio/voyant/internal/cache"
	"github.com/voyantio/voyant/internal/fault"
	"github.com/voyantio/voyant/internal/logger"
)

// APIKeyHeader carries the server-to-server tenant credential.
const APIKeyHeader = "X-API-Key"

// Host-lookup cache sizing.  30 s keeps suspension lag tolerable while
// absorbing virtually all steady-state traffic.
const (
	hostCacheSize = 1024
	hostCacheTTL  = 30 * time.Second
)

// Resolver maps inbound requests to tenant records against the
// control-plane database.
type Resolver struct {
	db    *sqlx.DB
	dev   bool // enables the loopback default-tenant fallback
	hosts *cache.LRU
}

// NewResolver builds a resolver over the global pool.
func NewResolver(db *sqlx.DB, dev bool) *Resolver {
	return &Resolver{db: db, dev: dev, hosts: cache.New(hostCacheSize, hostCacheTTL)}
}

// Resolve maps r to a tenant or fails with fault.ErrAuth (401) or
// fault.ErrBadRequest (400).
func (rs *Resolver) Resolve(ctx context.Context, r *http.Request) (*Record, error) {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return rs.byAPIKey(ctx, key)
	}
	return rs.byHost(ctx, requestHost(r))
}

func (rs *Resolver) byAPIKey(ctx context.Context, key string) (*Record, error) {
	rec, err := ByAPIKey(ctx, rs.db, key)
	if errors.Is(err, ErrNotFound) {
		return nil, fault.Authf("unknown api key")
	}
	if err != nil {
		return nil, err
	}
	return requireActive(rec)
}

func (rs *Resolver) byHost(ctx context.Context, host string) (*Record, error) {
	if v, ok := rs.hosts.Get(host); ok {
		return requireActive(v.(*Record))
	}
	rec, err := ByHost(ctx, rs.db, host)
	if errors.Is(err, ErrNotFound) {
		if rs.dev && isLoopback(host) {
			logger.For(ctx).Debugw("loopback host, serving dev default tenant", "host", host)
			rec, err = GetOrCreateDefault(ctx, rs.db)
			if err != nil {
				return nil, err
			}
			return requireActive(rec)
		}
		return nil, fault.BadRequestf("host %q", host)
	}
	if err != nil {
		return nil, err
	}
	rs.hosts.Add(host, rec)
	return requireActive(rec)
}

// requireActive enforces the status gate shared by both lookup paths.
func requireActive(rec *Record) (*Record, error) {
	if !rec.Active() {
		return nil, fault.Authf("tenant %s is %s", rec.Name, rec.Status)
	}
	return rec, nil
}

//
// host normalisation
//

// requestHost prefers the Origin header, falling back to Host, and
// returns the canonical `host[:port]` lookup key.
func requestHost(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			return canonicalHost(u.Host, u.Scheme)
		}
	}
	return canonicalHost(r.Host, "")
}

// canonicalHost lowercases and strips the scheme-default port so
// "Example.COM:443" and "example.com" hit the same mapping row.
func canonicalHost(hostport, scheme string) string {
	h := strings.ToLower(hostport)
	switch {
	case strings.HasSuffix(h, ":443") && (scheme == "https" || scheme == ""):
		h = strings.TrimSuffix(h, ":443")
	case strings.HasSuffix(h, ":80") && (scheme == "http" || scheme == ""):
		h = strings.TrimSuffix(h, ":80")
	}
	return h
}

// isLoopback recognises development host patterns.
func isLoopback(host string) bool {
	h := host
	if hp, _, err := net.SplitHostPort(host); err == nil {
		h = hp
	}
	h = strings.Trim(h, "[]")
	return h == "localhost" || h == "127.0.0.1" || h == "::1" ||
		strings.HasSuffix(h, ".localhost")
}
