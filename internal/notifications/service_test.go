package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"scribe/internal/config"
	"scribe/internal/notifications"
)

type capture struct {
	mu       sync.Mutex
	title    string
	tags     string
	priority string
	body     string
	calls    int
}

func newServer(t *testing.T, status int) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.title = r.Header.Get("Title")
		c.tags = r.Header.Get("Tags")
		c.priority = r.Header.Get("Priority")
		c.body = string(body)
		c.calls++
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, c
}

func configFor(url string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = url
	cfg.Notifications.Evictions = true
	cfg.Notifications.Commits = true
	cfg.Notifications.Errors = true
	return &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyItemEvicted(context.Background(), "hero-stats/a_1.jpg", ""); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "evicted",
			send: func(s notifications.Service) error {
				return s.NotifyItemEvicted(context.Background(), "hero-stats/lahn_1.jpg", "")
			},
			expectTitle:    "Scribe - Item Dropped",
			expectMessage:  "🗑️ Dropped hero-stats/lahn_1.jpg: retry budget exhausted",
			expectTags:     "scribe,evicted",
			expectPriority: "high",
		},
		{
			name: "committed draft",
			send: func(s notifications.Service) error {
				return s.NotifyCommitted(context.Background(), "stats", "Lahn", false)
			},
			expectTitle:   "Scribe - Site Updated",
			expectMessage: "✅ stats for Lahn saved (unconfirmed revision)",
			expectTags:    "scribe,commit,draft",
		},
		{
			name: "error",
			send: func(s notifications.Service) error {
				return s.NotifyError(context.Background(), errors.New("boom"), "hero-bios/eva_1.jpg")
			},
			expectTitle:    "Scribe - Error",
			expectMessage:  "❌ Error with hero-bios/eva_1.jpg: boom",
			expectTags:     "scribe,error,alert",
			expectPriority: "high",
		},
		{
			name:           "test",
			send:           func(s notifications.Service) error { return s.TestNotification(context.Background()) },
			expectTitle:    "Scribe - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "scribe,test",
			expectPriority: "low",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, got := newServer(t, http.StatusOK)
			svc := notifications.NewService(configFor(server.URL))
			if err := tt.send(svc); err != nil {
				t.Fatalf("send: %v", err)
			}
			if got.title != tt.expectTitle || got.body != tt.expectMessage || got.tags != tt.expectTags || got.priority != tt.expectPriority {
				t.Fatalf("got title=%q body=%q tags=%q priority=%q", got.title, got.body, got.tags, got.priority)
			}
		})
	}
}

func TestDisabledCategoriesAreSkipped(t *testing.T) {
	server, got := newServer(t, http.StatusOK)
	cfg := configFor(server.URL)
	cfg.Notifications.Commits = false
	svc := notifications.NewService(cfg)
	if err := svc.NotifyCommitted(context.Background(), "bio", "Eva", true); err != nil {
		t.Fatalf("NotifyCommitted: %v", err)
	}
	if got.calls != 0 {
		t.Fatalf("calls = %d, want 0", got.calls)
	}
}

func TestNtfyErrorStatus(t *testing.T) {
	server, _ := newServer(t, http.StatusForbidden)
	err := notifications.NewService(configFor(server.URL)).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
