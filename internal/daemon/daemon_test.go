package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/coord"
	"scribe/internal/coord/memstore"
	"scribe/internal/objectstore"
	"scribe/internal/workflow"
)

func newTestDaemon(t *testing.T, mutate func(*config.Config)) (*Daemon, *memstore.Store, *objectstore.MemoryStore) {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Dir = t.TempDir()
	cfg.API.Bind = "127.0.0.1:0"
	if mutate != nil {
		mutate(&cfg)
	}
	store := memstore.New()
	objects := objectstore.NewMemoryStore()
	d, err := New(&cfg, "serve", store, objects, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, store, objects
}

func multipartUpload(t *testing.T, fields map[string]string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if image != nil {
		part, err := mw.CreateFormFile("image", "shot.png")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(image); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, mw.FormDataContentType()
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestHandleUploadStoresObject(t *testing.T) {
	d, _, objects := newTestDaemon(t, nil)
	body, contentType := multipartUpload(t, map[string]string{"kind": "stats", "entity": "lahn"}, pngImage(t))
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	d.api.handleUpload(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var resp api.UploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Kind != "stats" || !strings.HasPrefix(resp.Key, "hero-stats/lahn_") || !strings.HasSuffix(resp.Key, ".png") {
		t.Fatalf("resp = %+v", resp)
	}
	if !objects.Has(resp.Key) {
		t.Fatal("object not stored")
	}
}

func TestHandleUploadRejectsMissingArgs(t *testing.T) {
	d, _, _ := newTestDaemon(t, nil)
	body, contentType := multipartUpload(t, map[string]string{"kind": "portrait", "entity": "lahn"}, pngImage(t))
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	d.api.handleUpload(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHandleUploadEnforcesLimit(t *testing.T) {
	d, _, _ := newTestDaemon(t, func(cfg *config.Config) { cfg.API.MaxUploadBytes = 16 })
	body, contentType := multipartUpload(t, map[string]string{"kind": "story", "entity": "lahn"}, pngImage(t))
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	d.api.handleUpload(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHandleReviewQueuesSubmission(t *testing.T) {
	d, store, _ := newTestDaemon(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/reviews", strings.NewReader(`{"hero":"Lahn","message":"great chain"}`))
	w := httptest.NewRecorder()
	d.api.handleReview(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if n, _ := store.QueueLen(context.Background(), coord.ReviewQueue); n != 1 {
		t.Fatalf("review queue length = %d", n)
	}

	bad := httptest.NewRequest(http.MethodPost, "/api/reviews", strings.NewReader(`{"hero":""}`))
	w = httptest.NewRecorder()
	d.api.handleReview(w, bad)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHandleStatusReportsQueues(t *testing.T) {
	d, store, _ := newTestDaemon(t, nil)
	if err := store.Enqueue(context.Background(), coord.ProposalQueue, []byte("{}")); err != nil {
		t.Fatal(err)
	}
	mgr := workflow.NewManager(nil, nil, workflow.Options{Workers: 3}, nil)
	d.workflow = mgr

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	d.api.handleStatus(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var payload api.NodeStatus
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if !payload.StoreReachable || payload.Queues.Proposals != 1 || payload.StoreBackend != "redis" {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.Workflow == nil || payload.Workflow.Workers != 3 {
		t.Fatalf("workflow = %+v", payload.Workflow)
	}
}

func TestRequireToken(t *testing.T) {
	srv := &apiServer{}
	handler := srv.requireToken("secret", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	for _, tc := range []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"Basic secret", http.StatusUnauthorized},
		{"Bearer secret", http.StatusNoContent},
		{"bearer secret", http.StatusNoContent},
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		handler(w, req)
		if w.Code != tc.want {
			t.Fatalf("header %q: status = %d, want %d", tc.header, w.Code, tc.want)
		}
	}
}

func TestStartHoldsRoleLock(t *testing.T) {
	d, _, _ := newTestDaemon(t, nil)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	second, err := New(d.cfg, "serve", memstore.New(), objectstore.NewMemoryStore(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("second instance should be refused")
	}
	if !d.Status(ctx).Running {
		t.Fatal("daemon should report running")
	}
}

func TestUploadWithoutObjectStore(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Dir = t.TempDir()
	cfg.API.Bind = "127.0.0.1:0"
	d, err := New(&cfg, "notifier", memstore.New(), nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body, contentType := multipartUpload(t, map[string]string{"kind": "bio", "entity": "Lahn"}, pngImage(t))
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	d.api.handleUpload(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
}

func TestHandleTestNotificationWithoutTopic(t *testing.T) {
	d, _, _ := newTestDaemon(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/notifications/test", nil)
	w := httptest.NewRecorder()
	d.api.handleTestNotification(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp api.NotificationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Sent || resp.Message != "ntfy topic not configured" {
		t.Fatalf("response = %+v", resp)
	}
}
