// internal/config/model.go
//
// Typed configuration model for Voyant.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                          – dotenv values,
//   • `conf/global.yaml`                       – primary static file,
//   • `VOYANT_`-prefixed environment overrides – highest precedence.
//
// Validation happens immediately after unmarshal; the app fails fast if
// required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`—Koanf ignores `yaml`
//     tags unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.

package config

import "time"

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
}

//
// Environment section
//

// Env gates behavior that differs between development and production:
// the loopback tenant fallback, and error detail in HTTP responses.
type Env struct {
	Name string `koanf:"name" validate:"required,oneof=dev staging prod"`
}

// Dev reports whether the loopback fallback and verbose errors apply.
func (e Env) Dev() bool { return e.Name == "dev" }

//
// Database section
//

// Database holds the shared-cluster DSN and the knobs that bound the
// dedicated-connection cache.  The shared DSN secret portion may use a
// `vault:` reference resolved at boot.
type Database struct {
	SharedDSN string `koanf:"shared_dsn" validate:"required"`

	// Dedicated-handle cache.
	CacheCapacity    int           `koanf:"cache_capacity" validate:"min=1"`
	IdleTTL          time.Duration `koanf:"idle_ttl"`
	DedicatedMaxOpen int           `koanf:"dedicated_max_open"`
	DedicatedMaxIdle int           `koanf:"dedicated_max_idle"`

	// How long a transaction begin may wait on the pool before the
	// attempt counts as an acquisition timeout.
	AcquireTimeout time.Duration `koanf:"acquire_timeout"`
}

//
// Breaker section
//

// Breaker carries the process-wide circuit-breaker defaults.  Callers
// may override per key at call time.
type Breaker struct {
	Timeout     time.Duration `koanf:"timeout"`
	MaxFailures int           `koanf:"max_failures" validate:"min=1"`
	Reset       time.Duration `koanf:"reset"`
	Retries     int           `koanf:"retries" validate:"min=0"`
	AlertAfter  time.Duration `koanf:"alert_after"`
}

//
// Fleet section
//

// Fleet holds the maintenance-sweep defaults.
type Fleet struct {
	Concurrency int           `koanf:"concurrency" validate:"min=1"`
	MaxAttempts int           `koanf:"max_attempts" validate:"min=1"`
	BaseBackoff time.Duration `koanf:"base_backoff"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime—never set in YAML or env.  The loader
// discovers `Root` (repo root or VOYANT_ROOT override) so later code can
// build absolute file paths.
type Paths struct {
	Root string // VOYANT_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP     HTTP     `koanf:"http"`
	Env      Env      `koanf:"env"`
	Database Database `koanf:"database"`
	Breaker  Breaker  `koanf:"breaker"`
	Fleet    Fleet    `koanf:"fleet"`
	Paths    Paths    `koanf:"-"` // not loaded from config files
}

// applyDefaults fills zero durations and counts with the shipped
// defaults so a minimal YAML stays valid.
func (c *Config) applyDefaults() {
	if c.Database.CacheCapacity == 0 {
		c.Database.CacheCapacity = 50
	}
	if c.Database.IdleTTL == 0 {
		c.Database.IdleTTL = 30 * time.Minute
	}
	if c.Database.DedicatedMaxOpen == 0 {
		c.Database.DedicatedMaxOpen = 5
	}
	if c.Database.DedicatedMaxIdle == 0 {
		c.Database.DedicatedMaxIdle = 2
	}
	if c.Database.AcquireTimeout == 0 {
		c.Database.AcquireTimeout = 5 * time.Second
	}
	if c.Breaker.Timeout == 0 {
		c.Breaker.Timeout = 10 * time.Second
	}
	if c.Breaker.MaxFailures == 0 {
		c.Breaker.MaxFailures = 5
	}
	if c.Breaker.Reset == 0 {
		c.Breaker.Reset = 30 * time.Second
	}
	if c.Breaker.AlertAfter == 0 {
		c.Breaker.AlertAfter = 5 * time.Minute
	}
	if c.Fleet.Concurrency == 0 {
		c.Fleet.Concurrency = 4
	}
	if c.Fleet.MaxAttempts == 0 {
		c.Fleet.MaxAttempts = 3
	}
	if c.Fleet.BaseBackoff == 0 {
		c.Fleet.BaseBackoff = 500 * time.Millisecond
	}
	if c.Env.Name == "" {
		c.Env.Name = "dev"
	}
}
