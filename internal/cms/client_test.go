package cms

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scribe/internal/services"
)

func TestSubmitJSON(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wp-json/heavenhold/v1/update-stats" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "bot" || pass != "secret" {
			t.Errorf("basic auth = %q %q %v", user, pass, ok)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{SiteURL: server.URL + "/", RESTNamespace: "/wp-json/heavenhold/v1/", Username: "bot", Password: "secret"})
	err := client.Submit(context.Background(), "update-stats", Submission{
		Fields:    map[string]any{"hero_id": 42, "atk": "1234"},
		Confirmed: true,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got["confirmed"] != true || got["atk"] != "1234" || got["hero_id"] != float64(42) {
		t.Fatalf("payload = %#v", got)
	}
}

func TestSubmitMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if got := r.FormValue("confirmed"); got != "0" {
			t.Errorf("confirmed = %q", got)
		}
		if got := r.FormValue("region"); got != "global" {
			t.Errorf("region = %q", got)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "lahn.jpg" || string(data) != "jpeg-bytes" {
			t.Errorf("attachment = %s %q", header.Filename, data)
		}
		if ct := header.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("attachment content type = %q", ct)
		}
	}))
	defer server.Close()

	client := NewClient(Config{SiteURL: server.URL})
	err := client.Submit(context.Background(), "update-portrait", Submission{
		Fields:     map[string]any{"hero_id": 7, "region": "global"},
		Attachment: &Attachment{Filename: "lahn.jpg", ContentType: "image/jpeg", Data: []byte("jpeg-bytes")},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestSubmitHTTPErrorIsExternal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewClient(Config{SiteURL: server.URL}).Submit(context.Background(), "update-bio", Submission{})
	if !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected external error, got %v", err)
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status in error: %v", err)
	}
}

func TestSubmitWithoutSite(t *testing.T) {
	err := NewClient(Config{}).Submit(context.Background(), "update-bio", Submission{})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestFetchCollectionPaginates(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/graphql" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req graphQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if !strings.Contains(req.Query, "heroes(first: $first, after: $after)") {
			t.Errorf("unexpected query: %s", req.Query)
		}
		calls++
		var body string
		switch req.Variables["after"] {
		case nil:
			body = `{"data":{"heroes":{"pageInfo":{"endCursor":"c1","hasNextPage":true},"nodes":[{"databaseId":1,"slug":"lahn","title":"Lahn"}]}}}`
		case "c1":
			body = `{"data":{"heroes":{"pageInfo":{"endCursor":"c2","hasNextPage":false},"nodes":[{"databaseId":2,"slug":"eva","title":"Eva"}]}}}`
		default:
			t.Errorf("unexpected cursor %v", req.Variables["after"])
		}
		_, _ = io.WriteString(w, body)
	}))
	defer server.Close()

	nodes, err := NewClient(Config{SiteURL: server.URL, PageSize: 1}).FetchCollection(context.Background(), CollectionHeroes)
	if err != nil {
		t.Fatalf("FetchCollection: %v", err)
	}
	if len(nodes) != 2 || calls != 2 {
		t.Fatalf("nodes=%d calls=%d", len(nodes), calls)
	}
}

func TestFetchCollectionGraphQLError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"errors":[{"message":"bad field"}]}`)
	}))
	defer server.Close()

	_, err := NewClient(Config{SiteURL: server.URL}).FetchCollection(context.Background(), CollectionItems)
	if err == nil || !strings.Contains(err.Error(), "bad field") {
		t.Fatalf("expected graphql error, got %v", err)
	}
	if _, err := NewClient(Config{SiteURL: server.URL}).FetchCollection(context.Background(), "costumes"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown collection, got %v", err)
	}
}
