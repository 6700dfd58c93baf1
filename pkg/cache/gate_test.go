package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingBackend struct{ err error }

func (b failingBackend) Get(context.Context, Key) (*Entry, error) { return nil, b.err }
func (b failingBackend) Put(context.Context, *Entry) error        { return b.err }

func TestNewGate_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewGate should panic with nil backend")
		}
	}()
	NewGate(nil, time.Hour)
}

func TestNewGate_DefaultTTL(t *testing.T) {
	gate := NewGate(NewMemoryBackend(), 0)
	if gate.TTL() != DefaultTTL {
		t.Errorf("TTL() = %v, want %v", gate.TTL(), DefaultTTL)
	}
}

func TestGate_LookupMiss(t *testing.T) {
	gate := NewGate(NewMemoryBackend(), time.Hour)

	ref, ok, err := gate.Lookup(context.Background(), "94105", "Italian", "dinner")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if ok || ref != "" {
		t.Errorf("Lookup() = (%q, %v), want miss", ref, ok)
	}
}

func TestGate_StoreThenLookup(t *testing.T) {
	clock := newFakeClock()
	gate := NewGate(NewMemoryBackend(), time.Hour, WithClock(clock.Now))
	ctx := context.Background()

	if err := gate.Store(ctx, "94105", "Italian", "dinner", "search-1", 0); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Normalization applies on the read side too.
	ref, ok, err := gate.Lookup(ctx, " 94105 ", "ITALIAN", "Dinner")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !ok || ref != "search-1" {
		t.Errorf("Lookup() = (%q, %v), want (search-1, true)", ref, ok)
	}
}

func TestGate_ExpiredEntryStaysStored(t *testing.T) {
	clock := newFakeClock()
	backend := NewMemoryBackend()
	gate := NewGate(backend, time.Hour, WithClock(clock.Now))
	ctx := context.Background()

	if err := gate.Store(ctx, "94105", "italian", "dinner", "search-1", time.Hour); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	clock.Advance(59 * time.Minute)
	if _, ok, _ := gate.Lookup(ctx, "94105", "italian", "dinner"); !ok {
		t.Fatal("expected hit before TTL elapsed")
	}

	clock.Advance(time.Minute)
	ref, ok, err := gate.Lookup(ctx, "94105", "italian", "dinner")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if ok {
		t.Errorf("Lookup() = (%q, true), want miss after TTL", ref)
	}

	// Lazy expiry: the entry is still physically present.
	entry, err := backend.Get(ctx, DeriveKey("94105", "italian", "dinner"))
	if err != nil {
		t.Fatalf("backend Get failed: %v", err)
	}
	if entry.ReferenceID != "search-1" {
		t.Errorf("stored ReferenceID = %q, want search-1", entry.ReferenceID)
	}
}

func TestGate_StoreUpserts(t *testing.T) {
	clock := newFakeClock()
	backend := NewMemoryBackend()
	gate := NewGate(backend, time.Hour, WithClock(clock.Now))
	ctx := context.Background()

	if err := gate.Store(ctx, "94105", "italian", "dinner", "search-1", 0); err != nil {
		t.Fatalf("first Store failed: %v", err)
	}
	clock.Advance(10 * time.Minute)
	if err := gate.Store(ctx, "94105", "Italian", "DINNER", "search-2", 0); err != nil {
		t.Fatalf("second Store failed: %v", err)
	}

	if backend.Len() != 1 {
		t.Errorf("backend holds %d entries, want 1", backend.Len())
	}

	ref, ok, err := gate.Lookup(ctx, "94105", "italian", "dinner")
	if err != nil || !ok {
		t.Fatalf("Lookup() = (%q, %v, %v), want hit", ref, ok, err)
	}
	if ref != "search-2" {
		t.Errorf("Lookup() = %q, want search-2", ref)
	}

	// Expiry follows the latest write.
	entry, _ := backend.Get(ctx, DeriveKey("94105", "italian", "dinner"))
	if want := clock.Now().Add(time.Hour); !entry.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", entry.ExpiresAt, want)
	}
}

func TestGate_StoreRequiresReference(t *testing.T) {
	gate := NewGate(NewMemoryBackend(), time.Hour)
	if err := gate.Store(context.Background(), "94105", "italian", "dinner", "  ", 0); err == nil {
		t.Error("Store with empty reference should fail")
	}
}

func TestGate_BackendErrors(t *testing.T) {
	boom := errors.New("connection refused")
	gate := NewGate(failingBackend{err: boom}, time.Hour)
	ctx := context.Background()

	if _, _, err := gate.Lookup(ctx, "a", "b", "c"); !errors.Is(err, boom) {
		t.Errorf("Lookup error = %v, want wrapped %v", err, boom)
	}
	if err := gate.Store(ctx, "a", "b", "c", "ref", 0); !errors.Is(err, boom) {
		t.Errorf("Store error = %v, want wrapped %v", err, boom)
	}
}

func TestGate_ConcurrentStoresDifferentKeys(t *testing.T) {
	gate := NewGate(NewMemoryBackend(), time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			loc := fmt.Sprintf("zip-%d", i)
			if err := gate.Store(ctx, loc, "thai", "lunch", fmt.Sprintf("search-%d", i), 0); err != nil {
				t.Errorf("Store(%s) failed: %v", loc, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 50; i++ {
		ref, ok, err := gate.Lookup(ctx, fmt.Sprintf("zip-%d", i), "thai", "lunch")
		if err != nil || !ok {
			t.Fatalf("Lookup(zip-%d) = (%q, %v, %v), want hit", i, ref, ok, err)
		}
		if want := fmt.Sprintf("search-%d", i); ref != want {
			t.Errorf("Lookup(zip-%d) = %q, want %q", i, ref, want)
		}
	}
}
