// internal/breaker/breaker.go
//
// Per-key circuit breaker.
//
// Context
// -------
// A Breaker guards one failing-prone resource (a dedicated database, a
// payment gateway, an email transport).  State machine:
//
//	closed     → cumulative failures ≥ MaxFailures → open
//	open       → Reset elapsed                     → half-open
//	half-open  → trial success                     → closed
//	half-open  → trial failure                     → open (fresh window)
//
// `Do` applies a per-attempt timeout and up to Retries immediate
// re-attempts; the failure counter moves once per failed Do call, not
// once per internal attempt.  While open and not yet due, Do rejects
// without invoking fn at all, so a dead dependency consumes no pool
// slots, sockets, or goroutines.
//
// Lifecycle transitions are logged through zap and counted in
// Prometheus.  A breaker that stays open past AlertAfter emits a
// distinct sustained-open signal so operators notice a datasource that
// never recovers on its own.
//
// Notes
// -----
// • All state transitions happen under b.mu; callers never observe a
//   half-updated breaker.
// • Oxford commas, two spaces after periods.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voyantio/voyant/internal/fault"
	"github.com/voyantio/voyant/internal/metrics"
)

//
// States
//

type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

//
// Clock — injectable for tests.
//

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) *time.Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, fn)
}

//
// Config
//

// Config tunes one breaker.  Zero fields inherit the registry defaults.
type Config struct {
	Timeout     time.Duration // per-attempt abort
	MaxFailures int           // consecutive failed Do calls before opening
	Reset       time.Duration // open → half-open cool-down
	Retries     int           // immediate re-attempts inside one Do
	AlertAfter  time.Duration // sustained-open alert threshold; 0 disables
}

func (c Config) merged(defaults Config) Config {
	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = defaults.MaxFailures
	}
	if c.Reset == 0 {
		c.Reset = defaults.Reset
	}
	if c.Retries == 0 {
		c.Retries = defaults.Retries
	}
	if c.AlertAfter == 0 {
		c.AlertAfter = defaults.AlertAfter
	}
	return c
}

//
// Breaker
//

type Breaker struct {
	key   string
	cfg   Config
	clock Clock

	mu            sync.Mutex
	state         State
	failures      int
	nextAttemptAt time.Time
	trialInFlight bool
	generation    uint64 // bumped on every transition; stale alert timers check it
}

// New constructs a closed breaker for key.  Most callers should go
// through a Registry instead so state is shared process-wide.
func New(key string, cfg Config) *Breaker {
	return &Breaker{key: key, cfg: cfg, clock: systemClock{}}
}

// WithClock swaps the time source.  Test hook; call before first use.
func (b *Breaker) WithClock(c Clock) *Breaker { b.clock = c; return b }

// State reports the current state, transitioning open → half-open first
// if the cool-down has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && !b.clock.Now().Before(b.nextAttemptAt) {
		return HalfOpen
	}
	return b.state
}

// Do runs fn under the breaker.  Each attempt gets a child context that
// aborts after cfg.Timeout; on failure the attempt is re-run immediately
// up to cfg.Retries times before the whole call counts as one failure.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	var err error
	for attempt := 0; attempt <= b.cfg.Retries; attempt++ {
		err = b.attempt(ctx, fn)
		if err == nil {
			b.recordSuccess()
			return nil
		}
		if ctx.Err() != nil {
			// Caller gone.  A cancellation-shaped error says nothing
			// about the dependency's health; a burst of client
			// disconnects must not trip the breaker.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				b.recordAbandoned()
				return err
			}
			break // genuine failure; count it, skip remaining retries
		}
	}
	b.recordFailure()
	return err
}

func (b *Breaker) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	actx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return fn(actx)
}

//
// admission and bookkeeping
//

// admit decides whether this Do call may run.  Open and not yet due
// rejects fail-fast; due transitions to half-open and admits exactly one
// trial call.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.clock.Now().Before(b.nextAttemptAt) {
			metrics.BreakerRejectedTotal.WithLabelValues(b.key).Inc()
			return fault.BreakerOpen(b.key)
		}
		b.transition(HalfOpen)
		b.trialInFlight = true
		return nil
	default: // HalfOpen
		if b.trialInFlight {
			metrics.BreakerRejectedTotal.WithLabelValues(b.key).Inc()
			return fault.BreakerOpen(b.key)
		}
		b.trialInFlight = true
		return nil
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trialInFlight = false
	if b.state != Closed {
		b.transition(Closed)
	}
}

// recordAbandoned releases an admitted call without moving the failure
// counter in either direction.  A half-open trial slot frees up so the
// next caller can probe.
func (b *Breaker) recordAbandoned() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false

	if b.state == HalfOpen {
		b.open()
		return
	}
	b.failures++
	if b.failures >= b.cfg.MaxFailures {
		b.open()
	}
}

// open flips to Open with a fresh Reset window and arms the
// sustained-open alert.  Caller holds b.mu.
func (b *Breaker) open() {
	b.nextAttemptAt = b.clock.Now().Add(b.cfg.Reset)
	b.transition(Open)

	if b.cfg.AlertAfter <= 0 {
		return
	}
	gen := b.generation
	b.clock.AfterFunc(b.cfg.AlertAfter, func() { b.alertIfStillOpen(gen) })
}

// alertIfStillOpen fires the sustained-open signal unless the breaker
// has transitioned since the timer was armed.
func (b *Breaker) alertIfStillOpen(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open || b.generation != gen {
		return
	}
	metrics.BreakerStillOpenAlertsTotal.WithLabelValues(b.key).Inc()
	zap.S().Warnw("breaker still open past alert threshold",
		"key", b.key,
		"open_for", b.cfg.AlertAfter.String(),
	)
}

// transition moves to next, bumps the generation, and emits telemetry.
// Caller holds b.mu.
func (b *Breaker) transition(next State) {
	prev := b.state
	b.state = next
	b.generation++
	metrics.BreakerTransitionsTotal.WithLabelValues(b.key, next.String()).Inc()
	zap.S().Infow("breaker transition",
		"key", b.key,
		"from", prev.String(),
		"to", next.String(),
		"failures", b.failures,
	)
}
