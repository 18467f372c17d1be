// internal/tenant/conncache.go
//
// Dedicated-connection router and cache.
//
// Context
// -------
// Shared-tier tenants all ride the single process-wide pool.  Dedicated
// tenants get their own *sqlx.DB, cached by datasource URL so two
// tenants sharing one physical database also share one handle.  The
// cache is bounded: a global capacity ceiling evicts the least recently
// used handle, and a background ticker closes handles idle past the
// TTL.  Construction runs under singleflight so concurrent resolutions
// of the same datasource never race into duplicate pools.
//
// `Evict` discards one cached handle by datasource identity; ops call
// it after rotating credentials so the next resolution reconnects with
// the fresh secret.
//
// Notes
// -----
// • At most one live handle per datasource URL at any time.
// • DSN passwords may be `vault:<path>#<key>` references, resolved
//   through the secrets client at construction time.
// • Oxford commas, two spaces after periods.
package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/voyantio/voyant/internal/database"
	"github.com/voyantio/voyant/internal/metrics"
)

// EvictInterval is how often the idle pass runs.
const EvictInterval = 5 * time.Minute

// Secrets resolves a Vault KV reference to a plain value.  Satisfied by
// *vault.Client; nil disables `vault:` DSN references.
type Secrets interface {
	GetKV(ctx context.Context, path, key string) (string, error)
}

type connEntry struct {
	db       *sqlx.DB
	lastUsed time.Time
}

// Conns routes a tenant to its database handle.
type Conns struct {
	shared   *sqlx.DB
	secrets  Secrets
	capacity int
	idleTTL  time.Duration
	poolOpts database.Options

	// open is swappable in tests; defaults to database.OpenWithOptions.
	open func(ctx context.Context, dsn string, opts database.Options) (*sqlx.DB, error)

	sfg    singleflight.Group
	mu     sync.Mutex
	m      map[string]*connEntry // datasource URL → handle
	ticker *time.Ticker
	done   chan struct{}
}

// NewConns builds the router and starts the idle evictor.
func NewConns(shared *sqlx.DB, secrets Secrets, capacity int, idleTTL time.Duration, poolOpts database.Options) *Conns {
	c := &Conns{
		shared:   shared,
		secrets:  secrets,
		capacity: capacity,
		idleTTL:  idleTTL,
		poolOpts: poolOpts,
		open:     database.OpenWithOptions,
		m:        make(map[string]*connEntry),
		ticker:   time.NewTicker(EvictInterval),
		done:     make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

// For returns the handle the tenant's work must run on: the shared pool
// for shared-tier tenants, a cached dedicated handle otherwise.
func (c *Conns) For(ctx context.Context, ten *Record) (*sqlx.DB, error) {
	if !ten.HasDedicated() {
		return c.shared, nil
	}
	dsn := *ten.DatasourceURL

	c.mu.Lock()
	if ent, ok := c.m[dsn]; ok {
		ent.lastUsed = time.Now()
		c.mu.Unlock()
		return ent.db, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sfg.Do(dsn, func() (interface{}, error) {
		// Double-check after the singleflight barrier.
		c.mu.Lock()
		if ent, ok := c.m[dsn]; ok {
			ent.lastUsed = time.Now()
			c.mu.Unlock()
			return ent.db, nil
		}
		c.mu.Unlock()

		resolved, err := c.resolveDSN(ctx, dsn)
		if err != nil {
			return nil, err
		}
		db, err := c.open(ctx, resolved, c.poolOpts)
		if err != nil {
			return nil, err
		}
		c.insert(dsn, db)
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sqlx.DB), nil
}

// insert stores the new handle and enforces the capacity ceiling by
// evicting least-recently-used entries.
func (c *Conns) insert(dsn string, db *sqlx.DB) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.m[dsn] = &connEntry{db: db, lastUsed: time.Now()}
	metrics.DedicatedConnsCreatedTotal.Inc()
	metrics.DedicatedConnsActive.Inc()

	for c.capacity > 0 && len(c.m) > c.capacity {
		c.evictOldestLocked("LRU pressure")
	}
}

// evictOldestLocked closes and removes the least-recently-used entry.
// Caller holds c.mu.
func (c *Conns) evictOldestLocked(reason string) {
	var oldestKey string
	var oldestAt time.Time
	for k, ent := range c.m {
		if oldestKey == "" || ent.lastUsed.Before(oldestAt) {
			oldestKey, oldestAt = k, ent.lastUsed
		}
	}
	if oldestKey == "" {
		return
	}
	_ = c.m[oldestKey].db.Close()
	delete(c.m, oldestKey)
	metrics.DedicatedConnsEvictedTotal.Inc()
	metrics.DedicatedConnsActive.Dec()
	zap.S().Infow("dedicated handle evicted", "datasource", oldestKey, "reason", reason)
}

// Evict discards the cached handle for one datasource URL.  The next
// resolution constructs fresh, picking up rotated credentials.
func (c *Conns) Evict(dsn string) bool {
	c.sfg.Forget(dsn)

	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.m[dsn]
	if !ok {
		return false
	}
	_ = ent.db.Close()
	delete(c.m, dsn)
	metrics.DedicatedConnsEvictedTotal.Inc()
	metrics.DedicatedConnsActive.Dec()
	zap.S().Infow("dedicated handle evicted", "datasource", dsn, "reason", "explicit")
	return true
}

// Len reports the number of cached dedicated handles.
func (c *Conns) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Close stops the evictor and closes every dedicated handle.  The
// shared pool is owned by the caller and left open.
func (c *Conns) Close() {
	c.ticker.Stop()
	close(c.done)

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, ent := range c.m {
		_ = ent.db.Close()
		delete(c.m, k)
		metrics.DedicatedConnsActive.Dec()
	}
}

// evictLoop closes handles idle past the TTL.
func (c *Conns) evictLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.ticker.C:
		}

		now := time.Now()
		c.mu.Lock()
		for k, ent := range c.m {
			if idle := now.Sub(ent.lastUsed); idle > c.idleTTL {
				_ = ent.db.Close()
				delete(c.m, k)
				metrics.DedicatedConnsEvictedTotal.Inc()
				metrics.DedicatedConnsActive.Dec()
				zap.S().Infow("dedicated handle evicted",
					"datasource", k,
					"reason", "idle",
					"idle", idle.Truncate(time.Second).String(),
				)
			}
		}
		c.mu.Unlock()
	}
}
