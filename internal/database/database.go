// internal/database/database.go
//
// Package database centralises sqlx connection helpers.  The driver is
// pgx's database/sql adapter; Voyant requires PostgreSQL because tenant
// isolation leans on session-scoped settings consumed by row-level
// security policies.
//
// Public entry points:
//
//	Open(ctx, dsn)                 – quick helper with conservative pool sizes.
//	OpenWithOptions(ctx, dsn, o)   – fine-grained control, with connect retries.
//
// Both helpers Ping the database before returning so callers can fail
// fast during bootstrap.  Callers should Close() the returned *sqlx.DB
// when no longer needed.
package database

import (
	"context"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Options tunes one pool.  Zero values fall back to the conservative
// defaults used by Open.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Retries         int           // connect attempts beyond the first
	RetryBackoff    time.Duration // multiplied by the attempt number
}

func (o *Options) fill() {
	if o.MaxOpenConns == 0 {
		o.MaxOpenConns = 15
	}
	if o.MaxIdleConns == 0 {
		o.MaxIdleConns = 5
	}
	if o.ConnMaxLifetime == 0 {
		o.ConnMaxLifetime = 30 * time.Minute
	}
	if o.RetryBackoff == 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
}

// Open returns a *sqlx.DB with sane defaults.  Suitable for the shared
// process-wide pool or for test setups.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	return OpenWithOptions(ctx, dsn, Options{})
}

// OpenWithOptions lets callers tune the pool per datasource.  Used by
// the connection router to keep per-tenant resource usage small.  The
// initial ping retries with linear backoff so a restarting database does
// not fail the whole bootstrap.
func OpenWithOptions(ctx context.Context, dsn string, opts Options) (*sqlx.DB, error) {
	opts.fill()

	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	var pingErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			return db, nil
		}
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * opts.RetryBackoff):
		}
	}
	db.Close()
	return nil, pingErr
}
