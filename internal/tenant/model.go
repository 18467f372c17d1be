// internal/tenant/model.go
//
// Tenant record and status lifecycle.
//
// Context
// -------
// Record mirrors one row in the control-plane `tenant` table.  A tenant
// either lives in the shared cluster (dedicated = false) or owns a
// physical database reached through DatasourceURL.  Only active tenants
// may open new units of work; suspended and pending tenants resolve but
// are refused at the door.
//
// The record is read-only to this core.  Tenant management (creation,
// tier changes, suspension) happens elsewhere and reaches us only as
// cache-eviction triggers.
package tenant

import "time"

//
// Status enum
//

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusPending   Status = "pending"
)

//
// Record
//

// Record is one row of the `tenant` table.  DatasourceURL and DBName
// are NULL for shared-cluster tenants.
type Record struct {
	ID            string    `db:"id"` // UUID, also the RLS session value
	Name          string    `db:"name"`
	Status        Status    `db:"status"`
	Dedicated     bool      `db:"dedicated"`
	DatasourceURL *string   `db:"datasource_url"`
	DBName        *string   `db:"db_name"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Active reports whether the tenant may open new units of work.
func (r *Record) Active() bool { return r.Status == StatusActive }

// HasDedicated reports whether the tenant routes to its own database.
// A dedicated flag without a datasource URL falls back to the shared
// cluster rather than failing the request.
func (r *Record) HasDedicated() bool {
	return r.Dedicated && r.DatasourceURL != nil && *r.DatasourceURL != ""
}
