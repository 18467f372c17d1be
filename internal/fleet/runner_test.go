// internal/fleet/runner_test.go
//
// Sweep-policy tests: one tenant's failure must never block the rest,
// skips never retry, and StopOnError aborts.
//
// Concurrency is pinned to 1 so the per-tenant SQL traffic is
// deterministic; the shared mock still matches out of order because
// retries repeat the begin/bind pair.
//
// Run: go test ./internal/fleet -v

package fleet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/voyantio/voyant/internal/breaker"
	"github.com/voyantio/voyant/internal/database"
	"github.com/voyantio/voyant/internal/fault"
	"github.com/voyantio/voyant/internal/tenant"
	"github.com/voyantio/voyant/internal/uow"
)

var errBoom = errors.New("itinerary rebuild failed")

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func fleetRows(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "name", "status", "dedicated",
		"datasource_url", "db_name", "created_at", "updated_at",
	})
	now := time.Now()
	for i, n := range names {
		rows.AddRow("t-"+string(rune('1'+i)), n, "active", false, nil, nil, now, now)
	}
	return rows
}

func newFleet(t *testing.T, control, shared *sqlx.DB) *Runner {
	t.Helper()
	conns := tenant.NewConns(shared, nil, 10, time.Hour, database.Options{})
	t.Cleanup(conns.Close)
	guard := tenant.NewPreflight(breaker.NewRegistry(breaker.Config{
		Timeout: time.Second, MaxFailures: 3, Reset: time.Minute,
	}))
	binder := uow.New(conns, guard, time.Second, uow.Policy{MaxAttempts: 1})
	return New(control, binder, Defaults{Concurrency: 1, MaxAttempts: 1, BaseBackoff: time.Millisecond})
}

// expectUnit registers the SQL for one transactional unit ending in
// commit (or rollback when ok is false).
func expectUnit(mock sqlmock.Sqlmock, ok bool) {
	mock.ExpectBegin()
	mock.ExpectExec(`set_config`).WillReturnResult(sqlmock.NewResult(0, 0))
	if ok {
		mock.ExpectCommit()
	} else {
		mock.ExpectRollback()
	}
}

func TestSweepContinuesPastFailingTenant(t *testing.T) {
	control, cmock := newMockDB(t)
	cmock.ExpectQuery(`FROM\s+tenant\s+t`).WillReturnRows(fleetRows("alpha", "bravo", "charlie"))

	shared, smock := newMockDB(t)
	smock.MatchExpectationsInOrder(false)
	expectUnit(smock, true)  // alpha
	expectUnit(smock, false) // bravo, attempt 1
	expectUnit(smock, false) // bravo, attempt 2
	expectUnit(smock, true)  // charlie

	var mu sync.Mutex
	invocations := map[string]int{}

	r := newFleet(t, control, shared)
	err := r.ForEach(context.Background(), Options{MaxAttempts: 2}, func(ctx context.Context, ten *tenant.Record) error {
		mu.Lock()
		invocations[ten.Name]++
		mu.Unlock()
		if ten.Name == "bravo" {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach error: %v, want nil (failures logged, sweep continues)", err)
	}
	if invocations["alpha"] != 1 || invocations["charlie"] != 1 {
		t.Errorf("healthy tenants invoked %v, want once each", invocations)
	}
	if invocations["bravo"] != 2 {
		t.Errorf("bravo invoked %d times, want MaxAttempts = 2", invocations["bravo"])
	}
	if err := smock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestUnavailableDatasourceSkipsWithoutRetry(t *testing.T) {
	control, cmock := newMockDB(t)
	cmock.ExpectQuery(`FROM\s+tenant\s+t`).WillReturnRows(fleetRows("down", "up"))

	shared, smock := newMockDB(t)
	smock.MatchExpectationsInOrder(false)
	expectUnit(smock, false) // down
	expectUnit(smock, true)  // up

	var mu sync.Mutex
	invocations := map[string]int{}

	r := newFleet(t, control, shared)
	// StopOnError must not fire for skip-class failures either.
	err := r.ForEach(context.Background(), Options{MaxAttempts: 3, StopOnError: true},
		func(ctx context.Context, ten *tenant.Record) error {
			mu.Lock()
			invocations[ten.Name]++
			mu.Unlock()
			if ten.Name == "down" {
				return fault.DbUnavailable("postgres://dsX", errors.New("connection refused"))
			}
			return nil
		})
	if err != nil {
		t.Fatalf("ForEach error: %v, want nil (skips never abort)", err)
	}
	if invocations["down"] != 1 {
		t.Errorf("down invoked %d times, want 1 (skips never retry)", invocations["down"])
	}
	if invocations["up"] != 1 {
		t.Errorf("up invoked %d times, want 1", invocations["up"])
	}
}

func TestStopOnErrorAbortsSweep(t *testing.T) {
	control, cmock := newMockDB(t)
	cmock.ExpectQuery(`FROM\s+tenant\s+t`).WillReturnRows(fleetRows("alpha", "bravo"))

	shared, smock := newMockDB(t)
	smock.MatchExpectationsInOrder(false)
	expectUnit(smock, false) // alpha fails, sweep aborts

	r := newFleet(t, control, shared)
	err := r.ForEach(context.Background(), Options{StopOnError: true},
		func(ctx context.Context, ten *tenant.Record) error {
			if ten.Name == "alpha" {
				return errBoom
			}
			t.Errorf("tenant %s ran after the sweep aborted", ten.Name)
			return nil
		})
	if !errors.Is(err, errBoom) {
		t.Fatalf("ForEach error = %v, want the aborting error", err)
	}
}

func TestStopOnErrorSkipsBackoffRetries(t *testing.T) {
	control, cmock := newMockDB(t)
	cmock.ExpectQuery(`FROM\s+tenant\s+t`).WillReturnRows(fleetRows("alpha"))

	shared, smock := newMockDB(t)
	expectUnit(smock, false)

	var invocations int
	r := newFleet(t, control, shared)
	err := r.ForEach(context.Background(), Options{StopOnError: true, MaxAttempts: 3, BaseBackoff: time.Minute},
		func(ctx context.Context, ten *tenant.Record) error {
			invocations++
			return errBoom
		})
	if !errors.Is(err, errBoom) {
		t.Fatalf("ForEach error = %v, want the aborting error", err)
	}
	if invocations != 1 {
		t.Fatalf("handler invoked %d times, want 1 (abort on first failure, no backoff)", invocations)
	}
	if err := smock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestListingFailurePropagates(t *testing.T) {
	control, cmock := newMockDB(t)
	cmock.ExpectQuery(`FROM\s+tenant\s+t`).WillReturnError(errors.New("control plane down"))

	shared, _ := newMockDB(t)

	r := newFleet(t, control, shared)
	err := r.ForEach(context.Background(), Options{}, func(ctx context.Context, ten *tenant.Record) error {
		t.Fatal("handler must not run when the listing fails")
		return nil
	})
	if err == nil {
		t.Fatal("ForEach error = nil, want the listing failure")
	}
}

func TestConnectivitySweepRoundTrips(t *testing.T) {
	control, cmock := newMockDB(t)
	cmock.ExpectQuery(`FROM\s+tenant\s+t`).WillReturnRows(fleetRows("alpha", "bravo"))

	shared, smock := newMockDB(t)
	smock.MatchExpectationsInOrder(false)
	for i := 0; i < 2; i++ {
		smock.ExpectBegin()
		smock.ExpectExec(`set_config`).WillReturnResult(sqlmock.NewResult(0, 0))
		smock.ExpectQuery(`SELECT 1`).
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
		smock.ExpectCommit()
	}

	r := newFleet(t, control, shared)
	if err := r.ForEach(context.Background(), Options{}, Connectivity); err != nil {
		t.Fatalf("ForEach error: %v", err)
	}
	if err := smock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestOptionsInheritDefaults(t *testing.T) {
	r := &Runner{defaults: Defaults{Concurrency: 8, MaxAttempts: 4, BaseBackoff: 250 * time.Millisecond}}

	got := r.fill(Options{})
	if got.Concurrency != 8 || got.MaxAttempts != 4 || got.BaseBackoff != 250*time.Millisecond {
		t.Fatalf("fill(zero) = %+v, want runner defaults", got)
	}

	got = r.fill(Options{Concurrency: 2, MaxAttempts: 1, BaseBackoff: time.Millisecond})
	if got.Concurrency != 2 || got.MaxAttempts != 1 || got.BaseBackoff != time.Millisecond {
		t.Fatalf("fill(explicit) = %+v, want explicit values kept", got)
	}
}
