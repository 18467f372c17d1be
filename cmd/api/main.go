// cmd/api/main.go
//
// Voyant backend – HTTP entry point.
//
// Boot sequence
// -------------
//
//  1. Load env vars (jail-wide file → .env fallback).
//
//  2. Start daily rotating logger (tees to console when running in a TTY).
//
//  3. Load config (yaml + VOYANT_ env overlay) and open the shared
//     control-plane pool.
//
//  4. Wire the core: breaker registry → connection router (+Vault
//     secrets when configured) → preflight guard → transactional
//     binder → fleet runner.
//
//  5. Mount the operational surface (metrics, health, datasource
//     eviction, fleet sweep) and the tenant-resolution middleware in
//     front of the business API.
//
// Large comment blocks are framed by blank “//” lines; inline comments
// use a single “//”.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voyantio/voyant/internal/breaker"
	"github.com/voyantio/voyant/internal/config"
	"github.com/voyantio/voyant/internal/database"
	"github.com/voyantio/voyant/internal/fleet"
	"github.com/voyantio/voyant/internal/logger"
	"github.com/voyantio/voyant/internal/middleware"
	"github.com/voyantio/voyant/internal/server"
	"github.com/voyantio/voyant/internal/tenant"
	"github.com/voyantio/voyant/internal/uow"
	"github.com/voyantio/voyant/internal/vault"

	"github.com/joho/godotenv"
)

const serverEnvPath = "/usr/local/etc/voyant/global.env"

// loadEnv prefers the jail-wide env file; on dev it falls back to .env.
func loadEnv() {
	if _, err := os.Stat(serverEnvPath); err == nil {
		_ = godotenv.Load(serverEnvPath)
		return
	}
	_ = godotenv.Load()
}

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func init() { loadEnv() }

func main() {
	ctx := context.Background()

	rootDir, _ := os.Getwd()
	logOut, err := logger.New(rootDir, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logOut.Fatalf("load config: %v", err)
	}

	//
	// ── 1.  Shared control-plane pool ──────────────────────────────────
	//
	sharedDB, err := database.Open(ctx, cfg.Database.SharedDSN)
	if err != nil {
		logOut.Fatalf("connect shared DB: %v", err)
	}
	defer sharedDB.Close()
	logOut.Infow("shared DB online")

	// Log active-tenant count as an early sanity check.
	var active int
	_ = sharedDB.Get(&active, `SELECT COUNT(*) FROM tenant WHERE status = 'active'`)
	logOut.Infof("%d active tenant(s) found", active)

	//
	// ── 2.  Vault (optional, required for vault: DSN references) ──────
	//
	var secrets tenant.Secrets
	var vaultCli *vault.Client
	if os.Getenv("VAULT_ADDR") != "" {
		vaultCli, err = vault.New(ctx)
		if err != nil {
			logOut.Fatalf("vault init: %v", err)
		}
		secrets = vaultCli
		logOut.Infow("vault client online")
	}

	//
	// ── 3.  Core wiring ────────────────────────────────────────────────
	//
	registry := breaker.NewRegistry(breaker.Config{
		Timeout:     cfg.Breaker.Timeout,
		MaxFailures: cfg.Breaker.MaxFailures,
		Reset:       cfg.Breaker.Reset,
		Retries:     cfg.Breaker.Retries,
		AlertAfter:  cfg.Breaker.AlertAfter,
	})
	registry.TenantID = func(ctx context.Context) string {
		id, _ := tenant.IDFromContext(ctx)
		return id
	}

	conns := tenant.NewConns(sharedDB, secrets,
		cfg.Database.CacheCapacity, cfg.Database.IdleTTL,
		database.Options{
			MaxOpenConns: cfg.Database.DedicatedMaxOpen,
			MaxIdleConns: cfg.Database.DedicatedMaxIdle,
		})
	defer conns.Close()

	guard := tenant.NewPreflight(registry)
	binder := uow.New(conns, guard, cfg.Database.AcquireTimeout, uow.Policy{
		MaxAttempts: 3,
		BaseBackoff: 100 * time.Millisecond,
	})
	sweeper := fleet.New(sharedDB, binder, fleet.Defaults{
		Concurrency: cfg.Fleet.Concurrency,
		MaxAttempts: cfg.Fleet.MaxAttempts,
		BaseBackoff: cfg.Fleet.BaseBackoff,
	})

	resolver := tenant.NewResolver(sharedDB, cfg.Env.Dev())

	//
	// ── 4.  HTTP surface ───────────────────────────────────────────────
	//
	r := chi.NewRouter()
	r.Use(middleware.Correlation)

	// Operational endpoints live outside tenant resolution.
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := sharedDB.PingContext(req.Context()); err != nil {
			http.Error(w, "shared db unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/ops/datasource/evict", func(w http.ResponseWriter, req *http.Request) {
		dsn := req.URL.Query().Get("datasource")
		if dsn == "" {
			http.Error(w, "datasource query param required", http.StatusBadRequest)
			return
		}
		if vaultCli != nil {
			if path := req.URL.Query().Get("secret_path"); path != "" {
				vaultCli.Invalidate(path)
			}
		}
		if conns.Evict(dsn) {
			logger.For(req.Context()).Infow("datasource evicted by ops", "datasource", dsn)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, "datasource not cached", http.StatusNotFound)
	})
	r.Post("/ops/fleet/sweep", func(w http.ResponseWriter, req *http.Request) {
		// The sweep outlives the request; detach it onto a background
		// context that keeps the request's correlation id for the logs.
		cid, _ := middleware.CorrelationID(req.Context())
		go func() {
			sctx := middleware.WithCorrelationID(context.Background(), cid)
			if err := sweeper.ForEach(sctx, fleet.Options{}, fleet.Connectivity); err != nil {
				logger.For(sctx).Errorw("connectivity sweep aborted", "err", err.Error())
			}
		}()
		w.WriteHeader(http.StatusAccepted)
	})

	// Tenant-scoped API.  Business routes mount here; everything under
	// this group runs behind resolution and, per handler, WithTenant.
	r.Group(func(r chi.Router) {
		r.Use(middleware.ResolveTenant(resolver, cfg.Env.Dev()))

		r.Get("/v1/ping", func(w http.ResponseWriter, req *http.Request) {
			rec, _ := tenant.RecordFromContext(req.Context())
			err := binder.WithTenant(req.Context(), rec, func(ctx context.Context, tx *sqlx.Tx) error {
				var one int
				return tx.QueryRowxContext(ctx, `SELECT 1`).Scan(&one)
			})
			if err != nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("pong"))
		})
	})

	srv := server.New(cfg.HTTP.ListenAddr, r)
	logOut.Infof("listening on %s", cfg.HTTP.ListenAddr)
	if err := server.Run(srv); err != nil {
		logOut.Fatalf("http server: %v", err)
	}
	logOut.Infow("shutdown complete")
}
