// internal/server/server.go
//
// HTTP server lifecycle: hardened timeouts plus signal-driven graceful
// shutdown.
//
// Timeout rationale:
//
//   • ReadTimeout   – abort slow-loris headers (10 s)
//   • WriteTimeout  – cap total response time (15 s)
//   • IdleTimeout   – close keep-alives on idle clients (60 s)
//
// Shutdown drains in-flight requests for up to DrainTimeout; a unit of
// work that outlives the drain is killed with its context, which rolls
// its transaction back.

package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DrainTimeout bounds graceful shutdown.
const DrainTimeout = 30 * time.Second

// New constructs an *http.Server with hardened defaults.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		// TLSConfig may be injected by callers (e.g., autocert).
	}
}

// Run serves until SIGINT/SIGTERM, then drains.  Blocks for the life of
// the process.
func Run(srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		zap.S().Infow("shutdown signal received, draining", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zap.S().Warnw("drain timeout exceeded, forcing close", "err", err.Error())
		return srv.Close()
	}
	return <-errCh
}
