package objectstore_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"scribe/internal/objectstore"
)

func TestMemoryStoreListFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	for _, key := range []string{"hero-stats/", "hero-stats/b_2.jpg", "hero-stats/a_1.jpg", "hero-bios/c_3.jpg"} {
		if err := store.Put(ctx, key, []byte("x"), "image/jpeg"); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}
	objects, err := store.List(ctx, "hero-stats/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var keys []string
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	if strings.Join(keys, ",") != "hero-stats/,hero-stats/a_1.jpg,hero-stats/b_2.jpg" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	_, err := objectstore.NewMemoryStore().Get(context.Background(), "missing.jpg")
	if !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreDeleteRecordsKey(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	_ = store.Put(ctx, "hero-bios/lahn_1.jpg", []byte("x"), "")
	if err := store.Delete(ctx, "hero-bios/lahn_1.jpg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Has("hero-bios/lahn_1.jpg") {
		t.Fatal("expected object removed")
	}
	if got := store.Deleted(); len(got) != 1 || got[0] != "hero-bios/lahn_1.jpg" {
		t.Fatalf("unexpected deleted list %v", got)
	}
}

func TestMemoryStoreExists(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	_ = store.Put(ctx, "hero-bios/lahn_1.jpg", []byte("x"), "")
	if ok, err := store.Exists(ctx, "hero-bios/lahn_1.jpg"); err != nil || !ok {
		t.Fatalf("Exists before delete = %v, %v", ok, err)
	}
	_ = store.Delete(ctx, "hero-bios/lahn_1.jpg")
	if ok, err := store.Exists(ctx, "hero-bios/lahn_1.jpg"); err != nil || ok {
		t.Fatalf("Exists after delete = %v, %v", ok, err)
	}
}

func TestS3ExistsUsesHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("unexpected method %s", r.Method)
		}
		switch r.URL.Path {
		case "/screens/hero-stats/lahn_1.jpg":
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusOK)
		case "/screens/hero-stats/denied_2.jpg":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	store, err := objectstore.NewS3Store(context.Background(), objectstore.S3Config{
		Bucket:          "screens",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	ctx := context.Background()
	if ok, err := store.Exists(ctx, "hero-stats/lahn_1.jpg"); err != nil || !ok {
		t.Fatalf("Exists(present) = %v, %v", ok, err)
	}
	if ok, err := store.Exists(ctx, "hero-stats/gone_3.jpg"); err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v", ok, err)
	}
	if _, err := store.Exists(ctx, "hero-stats/denied_2.jpg"); err == nil {
		t.Fatal("expected an error for a forbidden head request")
	}
}

func TestS3PresignGetSignsLocally(t *testing.T) {
	store, err := objectstore.NewS3Store(context.Background(), objectstore.S3Config{
		Bucket:          "screens",
		Region:          "us-east-1",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	raw, err := store.PresignGet(context.Background(), "hero-stats/lahn_1.jpg", time.Hour)
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse presigned url: %v", err)
	}
	if parsed.Host != "127.0.0.1:9000" {
		t.Fatalf("expected custom endpoint host, got %q", parsed.Host)
	}
	if parsed.Path != "/screens/hero-stats/lahn_1.jpg" {
		t.Fatalf("expected path-style key, got %q", parsed.Path)
	}
	if got := parsed.Query().Get("X-Amz-Expires"); got != "3600" {
		t.Fatalf("expected 3600s expiry, got %q", got)
	}
	if parsed.Query().Get("X-Amz-Signature") == "" {
		t.Fatal("expected signed url")
	}
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := objectstore.NewS3Store(context.Background(), objectstore.S3Config{Region: "us-east-1"}); err == nil {
		t.Fatal("expected bucket validation error")
	}
}
