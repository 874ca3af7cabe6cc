// Package coordtest is the conformance suite for coord.Store implementations.
package coordtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"scribe/internal/coord"
)

// Harness wires a store under test with a way to move time forward. Stores
// backed by a real clock pass time.Sleep.
type Harness struct {
	Store   coord.Store
	Advance func(time.Duration)
}

// Run executes every contract test against stores produced by newHarness. Each
// subtest receives a fresh harness.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(*testing.T, Harness)
	}{
		{"LockIsExclusiveUntilReleased", testLockExclusive},
		{"LockExpiresAfterTTL", testLockExpiry},
		{"RenewOnlyWhileHeld", testRenew},
		{"ConcurrentAcquireHasOneWinner", testConcurrentAcquire},
		{"AttemptCounters", testAttempts},
		{"QueueIsFIFO", testQueue},
		{"ResultTakenOnce", testResultTakenOnce},
		{"ResultExpires", testResultExpiry},
		{"CacheRoundTrip", testCache},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			t.Cleanup(func() { _ = h.Store.Close() })
			tc.fn(t, h)
		})
	}
}

func uniqueKey(t *testing.T, base string) string {
	return fmt.Sprintf("%s/%s-%d", t.Name(), base, time.Now().UnixNano())
}

func testLockExclusive(t *testing.T, h Harness) {
	ctx := context.Background()
	key := uniqueKey(t, "hero-stats/lahn_1.jpg")

	ok, err := h.Store.TryAcquireLock(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v; want true", ok, err)
	}
	ok, err = h.Store.TryAcquireLock(ctx, key, time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire = %v, %v; want false", ok, err)
	}
	ttl, held, err := h.Store.LockTTL(ctx, key)
	if err != nil || !held || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("LockTTL = %s, %v, %v", ttl, held, err)
	}
	if err := h.Store.ReleaseLock(ctx, key); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, held, _ := h.Store.LockTTL(ctx, key); held {
		t.Fatal("expected no lease after release")
	}
	ok, err = h.Store.TryAcquireLock(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release = %v, %v; want true", ok, err)
	}
}

func testLockExpiry(t *testing.T, h Harness) {
	ctx := context.Background()
	key := uniqueKey(t, "lock")
	if ok, err := h.Store.TryAcquireLock(ctx, key, 200*time.Millisecond); err != nil || !ok {
		t.Fatalf("acquire = %v, %v", ok, err)
	}
	h.Advance(400 * time.Millisecond)
	if ok, err := h.Store.TryAcquireLock(ctx, key, time.Minute); err != nil || !ok {
		t.Fatalf("acquire after expiry = %v, %v; want true", ok, err)
	}
}

func testRenew(t *testing.T, h Harness) {
	ctx := context.Background()
	key := uniqueKey(t, "lease")
	if ok, err := h.Store.RenewLock(ctx, key, time.Minute); err != nil || ok {
		t.Fatalf("renew of absent lease = %v, %v; want false", ok, err)
	}
	if ok, _ := h.Store.TryAcquireLock(ctx, key, 300*time.Millisecond); !ok {
		t.Fatal("acquire failed")
	}
	if ok, err := h.Store.RenewLock(ctx, key, time.Minute); err != nil || !ok {
		t.Fatalf("renew of held lease = %v, %v; want true", ok, err)
	}
	h.Advance(500 * time.Millisecond)
	if ok, _ := h.Store.TryAcquireLock(ctx, key, time.Minute); ok {
		t.Fatal("renewed lease should still be held")
	}
}

func testConcurrentAcquire(t *testing.T, h Harness) {
	ctx := context.Background()
	key := uniqueKey(t, "contended")
	const contenders = 16
	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := h.Store.TryAcquireLock(ctx, key, time.Minute)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if got := winners.Load(); got != 1 {
		t.Fatalf("expected exactly one lock holder, got %d", got)
	}
}

func testAttempts(t *testing.T, h Harness) {
	ctx := context.Background()
	key := uniqueKey(t, "attempts")
	if n, err := h.Store.Attempts(ctx, key); err != nil || n != 0 {
		t.Fatalf("missing counter = %d, %v; want 0", n, err)
	}
	for want := 1; want <= 3; want++ {
		n, err := h.Store.IncrAttempts(ctx, key)
		if err != nil || n != want {
			t.Fatalf("incr = %d, %v; want %d", n, err, want)
		}
	}
	if err := h.Store.ResetAttempts(ctx, key); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := h.Store.Attempts(ctx, key); n != 0 {
		t.Fatalf("after reset = %d; want 0", n)
	}
	if n, _ := h.Store.IncrAttempts(ctx, key); n != 1 {
		t.Fatalf("incr after reset = %d; want 1", n)
	}
	if err := h.Store.ClearAttempts(ctx, key); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := h.Store.Attempts(ctx, key); n != 0 {
		t.Fatalf("after clear = %d; want 0", n)
	}
}

func testQueue(t *testing.T, h Harness) {
	ctx := context.Background()
	name := uniqueKey(t, "queue")
	if _, ok, err := h.Store.Dequeue(ctx, name); err != nil || ok {
		t.Fatalf("dequeue of empty queue = %v, %v", ok, err)
	}
	for _, payload := range []string{"a", "b", "c"} {
		if err := h.Store.Enqueue(ctx, name, []byte(payload)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if n, err := h.Store.QueueLen(ctx, name); err != nil || n != 3 {
		t.Fatalf("len = %d, %v; want 3", n, err)
	}
	for _, want := range []string{"a", "b", "c"} {
		got, ok, err := h.Store.Dequeue(ctx, name)
		if err != nil || !ok || string(got) != want {
			t.Fatalf("dequeue = %q, %v, %v; want %q", got, ok, err, want)
		}
	}
	if n, _ := h.Store.QueueLen(ctx, name); n != 0 {
		t.Fatalf("len after drain = %d", n)
	}
}

func testResultTakenOnce(t *testing.T, h Harness) {
	ctx := context.Background()
	id := uniqueKey(t, "task")
	if err := h.Store.SetResult(ctx, id, []byte(`{"approve":2}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, ok, err := h.Store.GetResult(ctx, id); err != nil || !ok || string(got) != `{"approve":2}` {
		t.Fatalf("get = %q, %v, %v", got, ok, err)
	}

	const readers = 8
	var taken atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := h.Store.TakeResult(ctx, id); err == nil && ok {
				taken.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := taken.Load(); got != 1 {
		t.Fatalf("expected verdict consumed once, got %d", got)
	}
	if _, ok, _ := h.Store.GetResult(ctx, id); ok {
		t.Fatal("expected slot to be empty after take")
	}
}

func testResultExpiry(t *testing.T, h Harness) {
	ctx := context.Background()
	id := uniqueKey(t, "expiring")
	if err := h.Store.SetResult(ctx, id, []byte("x"), 200*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	h.Advance(400 * time.Millisecond)
	if _, ok, err := h.Store.TakeResult(ctx, id); err != nil || ok {
		t.Fatalf("take after expiry = %v, %v; want miss", ok, err)
	}
	if err := h.Store.SetResult(ctx, id, []byte("y"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := h.Store.DeleteResult(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := h.Store.GetResult(ctx, id); ok {
		t.Fatal("expected deleted slot to be empty")
	}
}

func testCache(t *testing.T, h Harness) {
	ctx := context.Background()
	name := uniqueKey(t, "heroes")
	if _, ok, err := h.Store.GetCache(ctx, name); err != nil || ok {
		t.Fatalf("get of missing cache = %v, %v", ok, err)
	}
	if err := h.Store.SetCache(ctx, name, []byte(`[1]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := h.Store.SetCache(ctx, name, []byte(`[1,2]`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, ok, err := h.Store.GetCache(ctx, name)
	if err != nil || !ok || string(got) != `[1,2]` {
		t.Fatalf("get = %q, %v, %v", got, ok, err)
	}
}
