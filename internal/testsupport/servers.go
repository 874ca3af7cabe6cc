package testsupport

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Submission is one REST call the fake content backend received.
type Submission struct {
	Endpoint string
	Fields   map[string]string
	HasImage bool
}

// FakeCMS serves GraphQL collection pages and records REST submissions.
type FakeCMS struct {
	srv *httptest.Server

	mu          sync.Mutex
	collections map[string][]json.RawMessage
	submissions []Submission
}

// NewFakeCMS starts a fake content backend that closes with the test.
func NewFakeCMS(t testing.TB) *FakeCMS {
	t.Helper()

	f := &FakeCMS{collections: make(map[string][]json.RawMessage)}
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", f.handleGraphQL)
	mux.HandleFunc("/", f.handleSubmit)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// URL is the fake site root.
func (f *FakeCMS) URL() string { return f.srv.URL }

// SetCollection replaces the nodes served for collection. Each node is
// marshalled to JSON.
func (f *FakeCMS) SetCollection(t testing.TB, collection string, nodes ...any) {
	t.Helper()

	raw := make([]json.RawMessage, 0, len(nodes))
	for _, node := range nodes {
		encoded, err := json.Marshal(node)
		if err != nil {
			t.Fatalf("encode %s node: %v", collection, err)
		}
		raw = append(raw, encoded)
	}
	f.mu.Lock()
	f.collections[collection] = raw
	f.mu.Unlock()
}

// Submissions returns a copy of the recorded REST calls.
func (f *FakeCMS) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submission(nil), f.submissions...)
}

func (f *FakeCMS) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	data := make(map[string]any)
	for name, nodes := range f.collections {
		if strings.Contains(req.Query, name+"(") {
			data[name] = map[string]any{
				"pageInfo": map[string]any{"endCursor": "", "hasNextPage": false},
				"nodes":    nodes,
			}
		}
	}
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func (f *FakeCMS) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusOK)
		return
	}
	sub := Submission{
		Endpoint: r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:],
		Fields:   make(map[string]string),
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for key, values := range r.MultipartForm.Value {
			if len(values) > 0 {
				sub.Fields[key] = values[0]
			}
		}
		sub.HasImage = len(r.MultipartForm.File["image"]) > 0
	default:
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for key, value := range payload {
			switch v := value.(type) {
			case string:
				sub.Fields[key] = v
			default:
				encoded, _ := json.Marshal(v)
				sub.Fields[key] = string(encoded)
			}
		}
	}
	f.mu.Lock()
	f.submissions = append(f.submissions, sub)
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"success":true}`))
}

// FakeLLM answers every chat completion with a canned message.
type FakeLLM struct {
	srv *httptest.Server

	mu      sync.Mutex
	content string
	calls   int
}

// NewFakeLLM starts a fake completion endpoint that closes with the test.
func NewFakeLLM(t testing.TB, content string) *FakeLLM {
	t.Helper()

	f := &FakeLLM{content: content}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		f.mu.Lock()
		f.calls++
		reply := f.content
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"content": reply},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

// URL is the completion endpoint.
func (f *FakeLLM) URL() string { return f.srv.URL + "/v1/chat/completions" }

// SetContent changes the canned reply.
func (f *FakeLLM) SetContent(content string) {
	f.mu.Lock()
	f.content = content
	f.mu.Unlock()
}

// Calls reports how many completions were served.
func (f *FakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
