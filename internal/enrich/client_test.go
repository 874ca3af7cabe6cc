package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"scribe/internal/services"
)

func writeCompletion(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	payload := map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": content}},
		},
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func recordingSleeper(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestClassifySendsImagePart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("authorization = %q", got)
		}
		var req struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
			Messages  []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "vision" || req.MaxTokens != 1000 {
			t.Errorf("unexpected model/max tokens: %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Fatalf("unexpected messages: %+v", req.Messages)
		}
		var parts []contentPart
		if err := json.Unmarshal(req.Messages[1].Content, &parts); err != nil {
			t.Fatalf("decode parts: %v", err)
		}
		if len(parts) != 2 || parts[1].Type != "image_url" || parts[1].ImageURL.URL != "https://img/1.jpg" {
			t.Errorf("unexpected parts: %+v", parts)
		}
		writeCompletion(t, w, "```json\n{\"atk\": \"1,234\"}\n```")
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "vision"})
	var out struct {
		Atk string `json:"atk"`
	}
	if _, err := client.ClassifyJSON(context.Background(), Request{
		System:       "you read game screens",
		Instructions: "extract stats",
		ImageURL:     "https://img/1.jpg",
	}, &out); err != nil {
		t.Fatalf("ClassifyJSON: %v", err)
	}
	if out.Atk != "1,234" {
		t.Fatalf("atk = %q", out.Atk)
	}
}

func TestRateLimitHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeCompletion(t, w, "fine")
	}))
	defer server.Close()

	var delays []time.Duration
	client := NewClient(Config{APIKey: "k", BaseURL: server.URL}, WithSleeper(recordingSleeper(&delays)))
	got, err := client.Complete(context.Background(), "", "proofread", 0)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "fine" || calls.Load() != 2 {
		t.Fatalf("got %q after %d calls", got, calls.Load())
	}
	if len(delays) != 1 || delays[0] != 7*time.Second {
		t.Fatalf("delays = %v", delays)
	}
}

func TestRateLimitDoublesThenFails(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	var delays []time.Duration
	client := NewClient(
		Config{APIKey: "k", BaseURL: server.URL},
		WithSleeper(recordingSleeper(&delays)),
		WithRateLimitRetry(5, time.Second, 5*time.Second),
	)
	_, err := client.Complete(context.Background(), "", "proofread", 0)
	if !errors.Is(err, services.ErrRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if calls.Load() != 5 {
		t.Fatalf("calls = %d, want 5", calls.Load())
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delays = %v, want %v", delays, want)
		}
	}
}

func TestServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL}, WithSleeper(func(context.Context, time.Duration) error {
		t.Fatal("unexpected sleep")
		return nil
	}))
	_, err := client.Complete(context.Background(), "", "x", 0)
	if !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected external error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: url})
	_, err := client.Complete(context.Background(), "", "x", 0)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestMissingAPIKey(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := client.Classify(context.Background(), Request{Instructions: "x", ImageURL: "y"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestUndecodableOutputIsValidation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(t, w, "I cannot read this screenshot.")
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	var out map[string]any
	_, err := client.ClassifyJSON(context.Background(), Request{Instructions: "x", ImageURL: "y"}, &out)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodeJSONWithProse(t *testing.T) {
	var out struct {
		X int `json:"x"`
	}
	if err := DecodeJSON("Here you go: {\"x\": 12} hope it helps", &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if out.X != 12 {
		t.Fatalf("x = %d", out.X)
	}
	if err := DecodeJSON("   ", &out); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d, ok := parseRetryAfter("3"); !ok || d != 3*time.Second {
		t.Fatalf("seconds: %v %v", d, ok)
	}
	if _, ok := parseRetryAfter("soon"); ok {
		t.Fatal("expected garbage to be rejected")
	}
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	if d, ok := parseRetryAfter(future); !ok || d <= 0 {
		t.Fatalf("http date: %v %v", d, ok)
	}
}
