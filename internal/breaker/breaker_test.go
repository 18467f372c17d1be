// internal/breaker/breaker_test.go
//
// Unit-tests for the circuit-breaker state machine.
//
// A fake clock drives every time-dependent transition, so the tests
// never sleep: opening, the cool-down window, the single half-open
// trial, and the sustained-open alert are all exercised by advancing
// the clock by hand.
//
// Run: go test ./internal/breaker -v

package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voyantio/voyant/internal/fault"
)

//
// fake clock
//

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []fakeTimer
}

type fakeTimer struct {
	at time.Time
	fn func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) *time.Timer {
	c.mu.Lock()
	c.timers = append(c.timers, fakeTimer{at: c.now.Add(d), fn: fn})
	c.mu.Unlock()
	return nil
}

// Advance moves the clock and fires any due timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	var rest []fakeTimer
	for _, t := range c.timers {
		if !c.now.Before(t.at) {
			due = append(due, t.fn)
		} else {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

//
// helpers
//

var errBoom = errors.New("boom")

func testConfig() Config {
	return Config{
		Timeout:     time.Second,
		MaxFailures: 3,
		Reset:       30 * time.Second,
		Retries:     0,
		AlertAfter:  5 * time.Minute,
	}
}

func failing(calls *int) func(ctx context.Context) error {
	return func(ctx context.Context) error { *calls++; return errBoom }
}

func succeeding(calls *int) func(ctx context.Context) error {
	return func(ctx context.Context) error { *calls++; return nil }
}

//
// tests
//

func TestOpensAfterMaxFailures(t *testing.T) {
	clock := newFakeClock()
	b := New("ds-1", testConfig()).WithClock(clock)

	var calls int
	for i := 0; i < 3; i++ {
		if err := b.Do(context.Background(), failing(&calls)); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: err = %v, want boom", i, err)
		}
	}
	if got := b.State(); got != Open {
		t.Fatalf("state = %v, want open", got)
	}
	if calls != 3 {
		t.Fatalf("underlying calls = %d, want 3", calls)
	}
}

func TestOpenRejectsWithoutInvoking(t *testing.T) {
	clock := newFakeClock()
	b := New("ds-1", testConfig()).WithClock(clock)

	var calls int
	for i := 0; i < 3; i++ {
		_ = b.Do(context.Background(), failing(&calls))
	}

	// While open and not yet due, every fire fails fast and the
	// underlying function is never attempted.
	for i := 0; i < 5; i++ {
		err := b.Do(context.Background(), failing(&calls))
		if !errors.Is(err, fault.ErrBreakerOpen) {
			t.Fatalf("err = %v, want ErrBreakerOpen", err)
		}
	}
	if calls != 3 {
		t.Fatalf("underlying calls = %d, want 3 (no calls while open)", calls)
	}
}

func TestHalfOpenTrialSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := New("ds-1", testConfig()).WithClock(clock)

	var calls int
	for i := 0; i < 3; i++ {
		_ = b.Do(context.Background(), failing(&calls))
	}

	clock.Advance(31 * time.Second) // past Reset

	var ok int
	if err := b.Do(context.Background(), succeeding(&ok)); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if ok != 1 {
		t.Fatalf("trial calls = %d, want 1", ok)
	}
	if got := b.State(); got != Closed {
		t.Fatalf("state after trial success = %v, want closed", got)
	}
}

func TestHalfOpenTrialFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := New("ds-1", testConfig()).WithClock(clock)

	var calls int
	for i := 0; i < 3; i++ {
		_ = b.Do(context.Background(), failing(&calls))
	}

	clock.Advance(31 * time.Second)
	if err := b.Do(context.Background(), failing(&calls)); !errors.Is(err, errBoom) {
		t.Fatalf("trial err = %v, want boom", err)
	}

	// Reopened with a fresh window: still rejecting before Reset
	// elapses again, admitting after.
	if err := b.Do(context.Background(), failing(&calls)); !errors.Is(err, fault.ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen (fresh window)", err)
	}
	clock.Advance(31 * time.Second)
	var ok int
	if err := b.Do(context.Background(), succeeding(&ok)); err != nil {
		t.Fatalf("second trial failed: %v", err)
	}
}

func TestRetriesCountAsOneFailure(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.Retries = 2 // three attempts per Do
	b := New("ds-1", cfg).WithClock(clock)

	var calls int
	if err := b.Do(context.Background(), failing(&calls)); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != 3 {
		t.Fatalf("attempts = %d, want 3 (1 + 2 retries)", calls)
	}

	b.mu.Lock()
	failures := b.failures
	b.mu.Unlock()
	if failures != 1 {
		t.Fatalf("failure counter = %d, want 1 per Do call", failures)
	}
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	clock := newFakeClock()
	b := New("ds-1", testConfig()).WithClock(clock)

	var calls, ok int
	_ = b.Do(context.Background(), failing(&calls))
	_ = b.Do(context.Background(), failing(&calls))
	_ = b.Do(context.Background(), succeeding(&ok))

	// Two failures were forgiven; two more must not open the breaker.
	_ = b.Do(context.Background(), failing(&calls))
	_ = b.Do(context.Background(), failing(&calls))
	if got := b.State(); got != Closed {
		t.Fatalf("state = %v, want closed after counter reset", got)
	}
}

func TestSustainedOpenAlertFiresOnce(t *testing.T) {
	clock := newFakeClock()
	b := New("ds-1", testConfig()).WithClock(clock)

	var calls int
	for i := 0; i < 3; i++ {
		_ = b.Do(context.Background(), failing(&calls))
	}

	// The alert timer was armed at open; advancing past AlertAfter
	// fires it while the breaker is still open.  This must not panic,
	// and a later transition must invalidate any stale timer.
	clock.Advance(5 * time.Minute)

	clock.Advance(26 * time.Second) // past the (already elapsed) reset
	var ok int
	_ = b.Do(context.Background(), succeeding(&ok))
	clock.Advance(10 * time.Minute) // stale timers, if any, see generation mismatch
	if got := b.State(); got != Closed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestCallerCancellationDoesNotCount(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MaxFailures = 1
	b := New("ds-1", cfg).WithClock(clock)

	// A burst of client disconnects against a healthy datasource.
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		err := b.Do(ctx, func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	}

	if got := b.State(); got != Closed {
		t.Fatalf("state = %v, want closed (cancellations are not failures)", got)
	}
	b.mu.Lock()
	failures := b.failures
	b.mu.Unlock()
	if failures != 0 {
		t.Fatalf("failure counter = %d, want 0", failures)
	}
}

func TestAbandonedTrialFreesHalfOpenSlot(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MaxFailures = 1
	b := New("ds-1", cfg).WithClock(clock)

	var calls int
	_ = b.Do(context.Background(), failing(&calls)) // opens
	clock.Advance(31 * time.Second)

	// The trial caller disconnects mid-probe.
	ctx, cancel := context.WithCancel(context.Background())
	err := b.Do(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("trial err = %v, want context.Canceled", err)
	}

	// The slot must be free again: the next caller probes and closes.
	var ok int
	if err := b.Do(context.Background(), succeeding(&ok)); err != nil {
		t.Fatalf("follow-up trial rejected: %v", err)
	}
	if got := b.State(); got != Closed {
		t.Fatalf("state = %v, want closed after successful trial", got)
	}
}

func TestRegistrySharesBreakersByKey(t *testing.T) {
	r := NewRegistry(testConfig()).WithClock(newFakeClock())

	if r.Get("stripe") != r.Get("stripe") {
		t.Fatal("same key must return the same breaker")
	}
	if r.Get("stripe") == r.Get("postmark") {
		t.Fatal("distinct keys must not share a breaker")
	}
}

func TestCallWrapsProviderError(t *testing.T) {
	r := NewRegistry(testConfig()).WithClock(newFakeClock())

	err := r.Call(context.Background(), "stripe", func(ctx context.Context) error {
		return errBoom
	})

	var pe *fault.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %T, want *fault.ProviderError", err)
	}
	if pe.Provider != "stripe" {
		t.Fatalf("provider = %q, want stripe", pe.Provider)
	}
	if !errors.Is(err, fault.ErrProvider) {
		t.Fatal("errors.Is(err, ErrProvider) = false, want true")
	}
}

func TestRunReturnsValue(t *testing.T) {
	r := NewRegistry(testConfig()).WithClock(newFakeClock())

	got, err := Run(context.Background(), r, "geo", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("Run = (%q, %v), want (ok, nil)", got, err)
	}
}
