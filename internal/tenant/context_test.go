// internal/tenant/context_test.go
//
// Ambient-scope isolation tests.
//
// The critical invariant: two concurrently executing units of work must
// never observe each other's scope, and nothing survives the unit.
//
// Run: go test ./internal/tenant -v

package tenant

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestScopeRoundTrip(t *testing.T) {
	rec := &Record{ID: "t-1", Name: "acme", Status: StatusActive}
	ctx := WithScope(context.Background(), &Scope{Tenant: rec})

	s, ok := ScopeFromContext(ctx)
	if !ok || s.Tenant.ID != "t-1" {
		t.Fatalf("scope = %+v, ok = %v", s, ok)
	}
	if id, ok := IDFromContext(ctx); !ok || id != "t-1" {
		t.Fatalf("IDFromContext = (%q, %v)", id, ok)
	}
}

func TestNoScopeOutsideUnitOfWork(t *testing.T) {
	if _, ok := ScopeFromContext(context.Background()); ok {
		t.Fatal("background context must carry no scope")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("MustScope outside a unit of work must panic")
		}
	}()
	MustScope(context.Background())
}

func TestResolvedRecordFallback(t *testing.T) {
	rec := &Record{ID: "t-9", Status: StatusActive}
	ctx := WithRecord(context.Background(), rec)

	if id, ok := IDFromContext(ctx); !ok || id != "t-9" {
		t.Fatalf("IDFromContext = (%q, %v), want resolved record id", id, ok)
	}

	// Once a transactional scope exists, it wins over the resolved
	// record — they can differ during fleet sweeps that resolve one
	// tenant while iterating another.
	other := &Record{ID: "t-10", Status: StatusActive}
	ctx = WithScope(ctx, &Scope{Tenant: other})
	if id, _ := IDFromContext(ctx); id != "t-10" {
		t.Fatalf("IDFromContext = %q, want scope id t-10", id)
	}
}

func TestConcurrentUnitsNeverLeak(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("t-%d", n)
			ctx := WithScope(context.Background(), &Scope{
				Tenant: &Record{ID: id, Status: StatusActive},
			})
			for j := 0; j < 100; j++ {
				got, ok := IDFromContext(ctx)
				if !ok || got != id {
					t.Errorf("unit %d observed tenant %q", n, got)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
