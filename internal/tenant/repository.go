// internal/tenant/repository.go
//
// Control-plane queries for tenant resolution and fleet sweeps.
//
// Context
// -------
// Three tables in the shared control-plane database feed this file:
//
//	tenant          (id PK, name, status, dedicated, datasource_url, db_name, …)
//	tenant_domain   (host PK, tenant_id FK)   – canonical host[:port] mapping
//	tenant_api_key  (key_hash PK, tenant_id FK, revoked_at)
//
// These helpers accept the *global* pool; per-tenant data never lives
// here.  They are thin, parameterised queries; callers own caching.
//
// Notes
// -----
// • API keys are stored as SHA-256 hex digests, never in the clear.
// • Oxford commas, two spaces after periods.
package tenant

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when no tenant matches the lookup.
var ErrNotFound = errors.New("tenant not found")

const recordColumns = `t.id, t.name, t.status, t.dedicated,
       t.datasource_url, t.db_name, t.created_at, t.updated_at`

// ByAPIKey resolves a tenant by the caller-presented API key.
func ByAPIKey(ctx context.Context, db *sqlx.DB, apiKey string) (*Record, error) {
	sum := sha256.Sum256([]byte(apiKey))

	const q = `
        SELECT ` + recordColumns + `
        FROM   tenant t
        JOIN   tenant_api_key k ON k.tenant_id = t.id
        WHERE  k.key_hash  = $1
          AND  k.revoked_at IS NULL
        LIMIT  1`
	var rec Record
	err := db.GetContext(ctx, &rec, q, hex.EncodeToString(sum[:]))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ByHost resolves a tenant through the domain-mapping table.  host must
// already be canonicalised (lowercase, default ports stripped).
func ByHost(ctx context.Context, db *sqlx.DB, host string) (*Record, error) {
	const q = `
        SELECT ` + recordColumns + `
        FROM   tenant t
        JOIN   tenant_domain d ON d.tenant_id = t.id
        WHERE  d.host = $1
        LIMIT  1`
	var rec Record
	err := db.GetContext(ctx, &rec, q, host)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

//
// Fleet listing
//

// Filter narrows a fleet sweep.  Nil fields match everything.
type Filter struct {
	Status    *Status
	Dedicated *bool
}

// All returns the tenants matching filter, ordered by name for stable
// sweep logs.
func All(ctx context.Context, db *sqlx.DB, f Filter) ([]Record, error) {
	const q = `
        SELECT ` + recordColumns + `
        FROM   tenant t
        WHERE  ($1::text IS NULL OR t.status    = $1)
          AND  ($2::bool IS NULL OR t.dedicated = $2)
        ORDER  BY t.name`
	var rows []Record
	if err := db.SelectContext(ctx, &rows, q, f.Status, f.Dedicated); err != nil {
		return nil, err
	}
	return rows, nil
}

//
// Dev fallback
//

// DefaultName is the tenant served to loopback hosts in dev mode.
const DefaultName = "devlocal"

// GetOrCreateDefault returns the dev default tenant, creating it on
// first use.  The insert is idempotent under concurrent callers thanks
// to ON CONFLICT.
func GetOrCreateDefault(ctx context.Context, db *sqlx.DB) (*Record, error) {
	const sel = `
        SELECT ` + recordColumns + `
        FROM   tenant t
        WHERE  t.name = $1
        LIMIT  1`
	var rec Record
	err := db.GetContext(ctx, &rec, sel, DefaultName)
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	const ins = `
        INSERT INTO tenant (id, name, status, dedicated)
        VALUES ($1, $2, 'active', FALSE)
        ON CONFLICT (name) DO NOTHING`
	if _, err := db.ExecContext(ctx, ins, uuid.NewString(), DefaultName); err != nil {
		return nil, err
	}
	if err := db.GetContext(ctx, &rec, sel, DefaultName); err != nil {
		return nil, err
	}
	return &rec, nil
}
