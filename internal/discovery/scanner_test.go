package discovery

import (
	"context"
	"testing"
	"time"

	"scribe/internal/coord/memstore"
	"scribe/internal/executor"
	"scribe/internal/objectstore"
	"scribe/internal/workitem"
)

type recorder struct {
	items  []workitem.Item
	refuse bool
}

func (r *recorder) Dispatch(_ context.Context, item workitem.Item) bool {
	if r.refuse {
		return false
	}
	r.items = append(r.items, item)
	return true
}

func setup(t *testing.T, keys ...string) (*memstore.Store, *objectstore.MemoryStore, *recorder, *Scanner) {
	t.Helper()
	store := memstore.New()
	objects := objectstore.NewMemoryStore()
	for _, key := range keys {
		if err := objects.Put(context.Background(), key, []byte("img"), "image/jpeg"); err != nil {
			t.Fatal(err)
		}
	}
	rec := &recorder{}
	evictor := executor.NewEvictor(store, objects, nil, nil)
	scanner := NewScanner(store, objects, evictor, rec, Options{MaxAttempts: 3, LockTTL: time.Minute}, nil)
	return store, objects, rec, scanner
}

func TestScanDispatchesAndLocks(t *testing.T) {
	store, _, rec, scanner := setup(t,
		"hero-portraits/",
		"hero-portraits/lahn_kr_abc.jpg",
		"hero-portraits/marina_en_def.png",
		"hero-stories/lahn_zzz.jpg",
	)
	ctx := context.Background()

	report, err := scanner.Scan(ctx, workitem.KindPortrait)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Seen != 2 || report.Dispatched != 2 {
		t.Fatalf("report = %s", report)
	}
	if rec.items[0].Entity() != "lahn" || rec.items[0].Arg(workitem.ArgRegion) != "kr" {
		t.Fatalf("item = %+v", rec.items[0])
	}
	for _, item := range rec.items {
		if _, held, _ := store.LockTTL(ctx, item.Key); !held {
			t.Fatalf("%s should be leased", item.Key)
		}
	}

	report, err = scanner.Scan(ctx, workitem.KindPortrait)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Locked != 2 || report.Dispatched != 0 || len(rec.items) != 2 {
		t.Fatalf("second pass should skip leased keys: %s", report)
	}
}

func TestScanCountsMalformedUntilEvicted(t *testing.T) {
	const key = "hero-portraits/onlyone.jpg"
	store, objects, rec, scanner := setup(t, key)
	ctx := context.Background()

	for pass := 1; pass <= 3; pass++ {
		report, err := scanner.Scan(ctx, workitem.KindPortrait)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if report.Malformed != 1 {
			t.Fatalf("pass %d: %s", pass, report)
		}
		if _, held, _ := store.LockTTL(ctx, key); held {
			t.Fatal("malformed keys must never be leased")
		}
	}
	if n, _ := store.Attempts(ctx, key); n != 3 {
		t.Fatalf("attempts = %d", n)
	}

	report, err := scanner.Scan(ctx, workitem.KindPortrait)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Evicted != 1 || objects.Has(key) || len(rec.items) != 0 {
		t.Fatalf("fourth pass should evict: %s", report)
	}
	if n, _ := store.Attempts(ctx, key); n != 0 {
		t.Fatal("eviction clears the counter")
	}
}

func TestScanEvictsBeforeLocking(t *testing.T) {
	const key = "hero-stories/lahn_abc.jpg"
	store, objects, rec, scanner := setup(t, key)
	ctx := context.Background()
	for range 3 {
		if _, err := store.IncrAttempts(ctx, key); err != nil {
			t.Fatal(err)
		}
	}
	if ok, _ := store.TryAcquireLock(ctx, key, time.Minute); !ok {
		t.Fatal("lock")
	}

	report, err := scanner.Scan(ctx, workitem.KindStory)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Evicted != 1 || objects.Has(key) || len(rec.items) != 0 {
		t.Fatalf("report = %s", report)
	}
	if _, held, _ := store.LockTTL(ctx, key); held {
		t.Fatal("eviction releases the lease")
	}
}

func TestScanReleasesLeaseWhenDispatchRefused(t *testing.T) {
	const key = "hero-stories/lahn_abc.jpg"
	store, _, rec, scanner := setup(t, key)
	rec.refuse = true
	ctx := context.Background()

	report, err := scanner.Scan(ctx, workitem.KindStory)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Dispatched != 0 {
		t.Fatalf("report = %s", report)
	}
	if _, held, _ := store.LockTTL(ctx, key); held {
		t.Fatal("refused dispatch must release the lease")
	}
}
