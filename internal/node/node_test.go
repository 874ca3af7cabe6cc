package node_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"scribe/internal/approval"
	"scribe/internal/config"
	"scribe/internal/coord/memstore"
	"scribe/internal/logging"
	"scribe/internal/node"
	"scribe/internal/objectstore"
	"scribe/internal/testsupport"
	"scribe/internal/workitem"
)

type approvingPoll struct {
	reacted chan struct{}
}

func (p *approvingPoll) Reacted() <-chan struct{} { return p.reacted }

func (p *approvingPoll) Tally(context.Context) (approval.Votes, error) {
	return approval.Votes{Approve: 1}, nil
}

func (p *approvingPoll) Resolve(context.Context, approval.Status) error { return nil }

type approvingChannel struct {
	mu        sync.Mutex
	published []approval.Proposal
}

func (c *approvingChannel) Publish(_ context.Context, p approval.Proposal) (approval.Poll, error) {
	c.mu.Lock()
	c.published = append(c.published, p)
	c.mu.Unlock()
	reacted := make(chan struct{})
	close(reacted)
	return &approvingPoll{reacted: reacted}, nil
}

func (c *approvingChannel) Send(context.Context, approval.Proposal) error { return nil }

func (c *approvingChannel) Published() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fastWorkflow(cfg *config.Config) {
	cfg.Workflow.ApprovalTimeout = 10
	cfg.Workflow.ApprovalPollInterval = 1
	cfg.Workflow.NotifierPollInterval = 1
	cfg.Workflow.VoteWindow = 1
}

func TestWorkerCommitsApprovedStory(t *testing.T) {
	llm := testsupport.NewFakeLLM(t, `{"story":"Once upon a time"}`)
	site := testsupport.NewFakeCMS(t)
	site.SetCollection(t, "heroes", map[string]any{"databaseId": 7, "slug": "heroA", "title": "Hero A"})
	cfg := testsupport.NewConfig(t,
		testsupport.WithLLMServer(llm),
		testsupport.WithCMSServer(site),
		testsupport.WithTasks("story"),
	)
	fastWorkflow(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := memstore.New()
	objects := objectstore.NewMemoryStore()
	key := "hero-stories/heroA_1234.png"
	testsupport.SeedObject(t, objects, key, testsupport.PNG(t, 4, 4))

	channel := &approvingChannel{}
	notifier, err := node.NewNotifier(ctx, cfg, logging.NewNop(), node.Overrides{Store: store, Channel: channel})
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	t.Cleanup(func() { _ = notifier.Close() })

	worker, err := node.NewWorker(ctx, cfg, logging.NewNop(), node.Overrides{Store: store, Objects: objects})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	t.Cleanup(func() { _ = worker.Close() })

	if err := worker.Refresher.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := notifier.Start(ctx); err != nil {
		t.Fatalf("notifier Start: %v", err)
	}
	if err := worker.Start(ctx); err != nil {
		t.Fatalf("worker Start: %v", err)
	}

	report, err := worker.Scanner.Scan(ctx, workitem.KindStory)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Dispatched != 1 {
		t.Fatalf("expected one dispatched item, got %s", report)
	}

	waitFor(t, 15*time.Second, "story submission", func() bool { return len(site.Submissions()) > 0 })
	sub := site.Submissions()[0]
	if sub.Endpoint != "update-story" {
		t.Fatalf("unexpected endpoint %q", sub.Endpoint)
	}
	if sub.Fields["confirmed"] != "true" {
		t.Fatalf("expected confirmed commit, got %q", sub.Fields["confirmed"])
	}
	if sub.Fields["story"] != "Once upon a time" || sub.Fields["hero_id"] != "7" {
		t.Fatalf("unexpected fields %v", sub.Fields)
	}
	if channel.Published() != 1 {
		t.Fatalf("expected one published proposal, got %d", channel.Published())
	}
	waitFor(t, 5*time.Second, "object deletion", func() bool { return !objects.Has(key) })
	if n, _ := store.Attempts(ctx, key); n != 0 {
		t.Fatalf("expected attempts cleared, got %d", n)
	}
}

func TestWorkerRejectsUnknownTask(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTasks("story", "lore"))
	_, err := node.NewWorker(context.Background(), cfg, logging.NewNop(), node.Overrides{Objects: objectstore.NewMemoryStore()})
	if err == nil || !strings.Contains(err.Error(), "tasks.enabled") {
		t.Fatalf("expected tasks.enabled error, got %v", err)
	}
}

func TestWorkerStatusReportsJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTasks("story", "bio"))
	worker, err := node.NewWorker(context.Background(), cfg, logging.NewNop(), node.Overrides{Objects: objectstore.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	t.Cleanup(func() { _ = worker.Close() })

	status := worker.Daemon.Status(context.Background())
	if status.Workflow == nil {
		t.Fatal("expected workflow status")
	}
	names := make(map[string]bool)
	for _, job := range status.Workflow.Jobs {
		names[job.Name] = true
	}
	for _, want := range []string{"scan-story", "scan-bio", "refresh", "refresh-requests", "reviews"} {
		if !names[want] {
			t.Fatalf("missing job %q in %v", want, names)
		}
	}
	if names["scan-stats"] {
		t.Fatal("disabled kind should not be scanned")
	}
	if !status.Workflow.Health["store"].Ready {
		t.Fatalf("expected healthy store, got %+v", status.Workflow.Health["store"])
	}
}

func TestServerAcceptsUpload(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("s3cret"))
	objects := objectstore.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := node.NewServer(ctx, cfg, logging.NewNop(), node.Overrides{Objects: objects})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	_ = form.WriteField("kind", "bio")
	_ = form.WriteField("entity", "heroA")
	part, _ := form.CreateFormFile("image", "shot.png")
	_, _ = part.Write(testsupport.PNG(t, 2, 2))
	_ = form.Close()

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+d.APIAddr()+"/api/uploads", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	listed, err := objects.List(ctx, workitem.KindBio.Prefix()+"/")
	if err != nil || len(listed) != 1 {
		t.Fatalf("expected one stored object, got %v (%v)", listed, err)
	}
	if !strings.HasPrefix(listed[0].Key, "hero-bios/heroA_") {
		t.Fatalf("unexpected key %q", listed[0].Key)
	}
}
