package sqlitestore_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"scribe/internal/coord/coordtest"
	"scribe/internal/coord/sqlitestore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func TestConformance(t *testing.T) {
	coordtest.Run(t, func(t *testing.T) coordtest.Harness {
		clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
		store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "coord.db"), sqlitestore.WithClock(clock.Now))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return coordtest.Harness{Store: store, Advance: clock.Advance}
	})
}

func TestReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coord.db")
	ctx := context.Background()

	store, err := sqlitestore.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.IncrAttempts(ctx, "hero-bios/lahn_1.jpg"); err != nil {
		t.Fatalf("IncrAttempts: %v", err)
	}
	if err := store.Enqueue(ctx, "proposals", []byte("p1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := sqlitestore.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if n, _ := reopened.Attempts(ctx, "hero-bios/lahn_1.jpg"); n != 1 {
		t.Fatalf("expected persisted counter 1, got %d", n)
	}
	if payload, ok, _ := reopened.Dequeue(ctx, "proposals"); !ok || string(payload) != "p1" {
		t.Fatalf("expected persisted queue entry, got %q %v", payload, ok)
	}
}
