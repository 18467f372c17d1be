// internal/cache/lru_test.go
//
// Run: go test ./internal/cache -v

package cache

import (
	"testing"
	"time"
)

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2, 0)
	c.Add("a", 1)
	c.Add("b", 2)

	// Touch a so b becomes LRU.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a missing")
	}
	c.Add("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should have survived")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestUpdateDoesNotGrow(t *testing.T) {
	c := New(2, 0)
	c.Add("a", 1)
	c.Add("a", 2)
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	if v, _ := c.Get("a"); v != 2 {
		t.Fatalf("Get(a) = %v, want updated value 2", v)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(4, 10*time.Millisecond)
	c.Add("a", 1)

	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should be live immediately after Add")
	}
	time.Sleep(15 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("a should have expired")
	}

	// Re-adding restarts the TTL.
	c.Add("a", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("re-added entry should be live")
	}
}

func TestRemove(t *testing.T) {
	c := New(2, 0)
	c.Add("a", 1)
	c.Remove("a")
	c.Remove("never-there")
	if _, ok := c.Get("a"); ok {
		t.Fatal("a should be gone")
	}
}
