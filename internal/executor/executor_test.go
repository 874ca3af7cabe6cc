package executor

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"scribe/internal/approval"
	"scribe/internal/cms"
	"scribe/internal/coord"
	"scribe/internal/coord/memstore"
	"scribe/internal/enrich"
	"scribe/internal/imaging"
	"scribe/internal/objectstore"
	"scribe/internal/refcache"
	"scribe/internal/services"
	"scribe/internal/workitem"
)

const heroKey = "hero-stories/heroA_1234.jpg"

type stubEnricher struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  int
}

func (s *stubEnricher) ClassifyJSON(_ context.Context, _ enrich.Request, target any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.answer, enrich.DecodeJSON(s.answer, target)
}

type fakeGate struct {
	verdict   approval.Verdict
	received  bool
	proposals []approval.Proposal
}

func (g *fakeGate) Request(_ context.Context, p approval.Proposal) (approval.Verdict, bool, error) {
	g.proposals = append(g.proposals, p)
	v := g.verdict
	v.TaskID = p.TaskID
	return v, g.received, nil
}

type fakeBackend struct {
	endpoints   []string
	submissions []cms.Submission
	err         error
}

func (b *fakeBackend) Submit(_ context.Context, endpoint string, sub cms.Submission) error {
	if b.err != nil {
		return b.err
	}
	b.endpoints = append(b.endpoints, endpoint)
	b.submissions = append(b.submissions, sub)
	return nil
}

type countingRefresher struct{ requests int }

func (r *countingRefresher) Request() { r.requests++ }

type fixture struct {
	store    *memstore.Store
	objects  *objectstore.MemoryStore
	enricher *stubEnricher
	gate     *fakeGate
	backend  *fakeBackend
	refresh  *countingRefresher
	exec     *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:    memstore.New(),
		objects:  objectstore.NewMemoryStore(),
		enricher: &stubEnricher{answer: `{"story": "Once upon a time"}`},
		gate:     &fakeGate{received: true, verdict: approval.Verdict{Votes: approval.Votes{Approve: 2}}},
		backend:  &fakeBackend{},
		refresh:  &countingRefresher{},
	}
	snapshot := refcache.Snapshot{
		Collection: cms.CollectionHeroes,
		FetchedAt:  time.Now(),
		Nodes:      []json.RawMessage{json.RawMessage(`{"databaseId": 7, "slug": "heroA", "title": "Hero A"}`)},
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.SetCache(ctx, refcache.SnapshotKey(cms.CollectionHeroes), payload); err != nil {
		t.Fatal(err)
	}
	if err := f.objects.Put(ctx, heroKey, []byte("jpeg"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	f.exec = New(Deps{
		Store:      f.store,
		Objects:    f.objects,
		References: refcache.New(f.store),
		Enricher:   f.enricher,
		Gate:       f.gate,
		Backend:    f.backend,
		Refresher:  f.refresh,
		ChannelRef: "review",
		NewTaskID:  func() string { return "task-1" },
	})
	return f
}

func (f *fixture) lock(t *testing.T, key string) {
	t.Helper()
	ok, err := f.store.TryAcquireLock(context.Background(), key, 10*time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryAcquireLock(%s) = %v, %v", key, ok, err)
	}
}

func (f *fixture) locked(t *testing.T, key string) bool {
	t.Helper()
	_, ok, err := f.store.LockTTL(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	return ok
}

func (f *fixture) attempts(t *testing.T, key string) int {
	t.Helper()
	n, err := f.store.Attempts(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func mustItem(t *testing.T, key string) workitem.Item {
	t.Helper()
	item, err := workitem.ParseKey(key)
	if err != nil {
		t.Fatalf("ParseKey(%s): %v", key, err)
	}
	return item
}

func TestNextTable(t *testing.T) {
	cases := []struct {
		from State
		on   Event
		want State
		err  bool
	}{
		{StateFetching, EventEntityResolved, StateEnriching, false},
		{StateFetching, EventEntityMissing, StateAborted, false},
		{StateEnriching, EventEnriched, StateAwaitingApproval, false},
		{StateAwaitingApproval, EventVerdictCommit, StateCommitting, false},
		{StateAwaitingApproval, EventVerdictDraft, StateDrafting, false},
		{StateAwaitingApproval, EventVerdictRetry, StateRetrying, false},
		{StateCommitting, EventCommitted, StateDone, false},
		{StateDrafting, EventCommitted, StateDone, false},
		{StateEnriching, EventFailed, StateFailed, false},
		{StateFetching, EventCommitted, StateFetching, true},
		{StateDone, EventFailed, StateDone, true},
	}
	for _, tc := range cases {
		got, err := Next(tc.from, tc.on)
		if (err != nil) != tc.err {
			t.Fatalf("Next(%s, %s) err = %v, want error %v", tc.from, tc.on, err, tc.err)
		}
		if got != tc.want {
			t.Fatalf("Next(%s, %s) = %s, want %s", tc.from, tc.on, got, tc.want)
		}
	}
}

func TestRunCommitsApprovedProposal(t *testing.T) {
	f := newFixture(t)
	f.lock(t, heroKey)
	if _, err := f.store.IncrAttempts(context.Background(), heroKey); err != nil {
		t.Fatal(err)
	}

	outcome, err := f.exec.Run(context.Background(), mustItem(t, heroKey))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.State != StateDone || outcome.Decision.Outcome != approval.OutcomeCommit {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(f.gate.proposals) != 1 || f.gate.proposals[0].TaskID != "task-1" || f.gate.proposals[0].ChannelRef != "review" {
		t.Fatalf("proposals = %+v", f.gate.proposals)
	}
	if len(f.backend.submissions) != 1 {
		t.Fatalf("submissions = %d", len(f.backend.submissions))
	}
	sub := f.backend.submissions[0]
	if f.backend.endpoints[0] != "update-story" || !sub.Confirmed {
		t.Fatalf("submission = %s %+v", f.backend.endpoints[0], sub)
	}
	if sub.Fields["hero_id"] != int64(7) || sub.Fields["story"] != "Once upon a time" {
		t.Fatalf("fields = %#v", sub.Fields)
	}
	if f.objects.Has(heroKey) {
		t.Fatal("asset should be deleted after commit")
	}
	if f.locked(t, heroKey) {
		t.Fatal("lease should be released after commit")
	}
	if f.attempts(t, heroKey) != 0 {
		t.Fatal("attempt counter should be cleared after commit")
	}
	if f.refresh.requests != 1 {
		t.Fatalf("refresh requests = %d", f.refresh.requests)
	}
}

func TestRunDraftsOnTimeout(t *testing.T) {
	f := newFixture(t)
	f.gate.received = false
	f.lock(t, heroKey)

	outcome, err := f.exec.Run(context.Background(), mustItem(t, heroKey))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Decision.Outcome != approval.OutcomeDraft {
		t.Fatalf("decision = %+v", outcome.Decision)
	}
	if len(f.backend.submissions) != 1 || f.backend.submissions[0].Confirmed {
		t.Fatalf("want one unconfirmed submission, got %+v", f.backend.submissions)
	}
	if f.objects.Has(heroKey) {
		t.Fatal("asset should be deleted after a draft")
	}
}

func TestRunRetryVerdictResetsAttempts(t *testing.T) {
	f := newFixture(t)
	f.gate.verdict = approval.Verdict{Votes: approval.Votes{Approve: 3, Retry: 1}}
	f.lock(t, heroKey)
	ctx := context.Background()
	for range 2 {
		if _, err := f.store.IncrAttempts(ctx, heroKey); err != nil {
			t.Fatal(err)
		}
	}

	outcome, err := f.exec.Run(ctx, mustItem(t, heroKey))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.State != StateRetrying {
		t.Fatalf("state = %s", outcome.State)
	}
	if f.attempts(t, heroKey) != 0 {
		t.Fatalf("attempts = %d, want 0", f.attempts(t, heroKey))
	}
	if f.locked(t, heroKey) {
		t.Fatal("lease should be released for a retry")
	}
	if !f.objects.Has(heroKey) || len(f.backend.submissions) != 0 {
		t.Fatal("retry must not commit or delete the asset")
	}
}

func TestRunMissingReferenceLeavesLease(t *testing.T) {
	f := newFixture(t)
	key := "hero-stories/nobody_99.jpg"
	if err := f.objects.Put(context.Background(), key, []byte("x"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	f.lock(t, key)

	outcome, err := f.exec.Run(context.Background(), mustItem(t, key))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.State != StateAborted {
		t.Fatalf("state = %s", outcome.State)
	}
	if !f.locked(t, key) {
		t.Fatal("lease should be left to expire")
	}
	if f.enricher.calls != 0 || len(f.gate.proposals) != 0 {
		t.Fatal("aborted item must not be enriched or proposed")
	}
}

func (f *fixture) seedItems(t *testing.T, nodes ...string) {
	t.Helper()
	raw := make([]json.RawMessage, 0, len(nodes))
	for _, n := range nodes {
		raw = append(raw, json.RawMessage(n))
	}
	payload, err := json.Marshal(refcache.Snapshot{Collection: cms.CollectionItems, FetchedAt: time.Now(), Nodes: raw})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.SetCache(context.Background(), refcache.SnapshotKey(cms.CollectionItems), payload); err != nil {
		t.Fatal(err)
	}
}

func costumePreview(t *testing.T) []byte {
	t.Helper()
	data, err := imaging.EncodePNG(image.NewRGBA(image.Rect(0, 0, 200, 160)))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestRunCostumeRequiresHero(t *testing.T) {
	f := newFixture(t)
	f.seedItems(t, `{"databaseId": 90, "slug": "royal-crown", "title": "Royal Crown"}`)
	ctx := context.Background()
	key := "costumes/hero_royal-crown_ghost_1.png"
	if err := f.objects.Put(ctx, key, costumePreview(t), "image/png"); err != nil {
		t.Fatal(err)
	}
	f.lock(t, key)

	outcome, err := f.exec.Run(ctx, mustItem(t, key))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.State != StateAborted || len(f.gate.proposals) != 0 {
		t.Fatalf("unknown hero should abort before proposing, got %+v", outcome)
	}
	if !f.locked(t, key) || !f.objects.Has(key) {
		t.Fatal("aborted costume should keep its lease and asset")
	}

	key = "costumes/hero_royal-crown_heroA_2.png"
	if err := f.objects.Put(ctx, key, costumePreview(t), "image/png"); err != nil {
		t.Fatal(err)
	}
	f.lock(t, key)
	outcome, err = f.exec.Run(ctx, mustItem(t, key))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.State != StateDone || len(f.backend.submissions) != 1 {
		t.Fatalf("outcome = %+v", outcome)
	}
	sub := f.backend.submissions[0]
	if f.backend.endpoints[0] != "update-costume" || sub.Fields["item_id"] != int64(90) || sub.Fields["hero_id"] != int64(7) {
		t.Fatalf("submission = %s %#v", f.backend.endpoints[0], sub.Fields)
	}
}

func TestRunCostumeIllustrationToleratesUnknownHero(t *testing.T) {
	f := newFixture(t)
	f.seedItems(t, `{"databaseId": 90, "slug": "royal-crown", "title": "Royal Crown"}`)
	ctx := context.Background()
	key := "costume-illustrations/super_royal-crown_ghost_3.png"
	if err := f.objects.Put(ctx, key, costumePreview(t), "image/png"); err != nil {
		t.Fatal(err)
	}
	f.lock(t, key)

	outcome, err := f.exec.Run(ctx, mustItem(t, key))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.State != StateDone || len(f.backend.submissions) != 1 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if f.backend.endpoints[0] != "update-super-illustration" {
		t.Fatalf("endpoint = %s", f.backend.endpoints[0])
	}
}

func TestRunUnknownKindIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec.Run(context.Background(), workitem.Item{Key: "x/y.jpg", Kind: "mystery"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
}

type recordingScheduler struct {
	delays []time.Duration
	fns    []func(context.Context)
}

func (s *recordingScheduler) After(d time.Duration, fn func(context.Context)) {
	s.delays = append(s.delays, d)
	s.fns = append(s.fns, fn)
}

func newRunner(f *fixture, sched Scheduler, opts RunnerOptions) *Runner {
	evictor := NewEvictor(f.store, f.objects, nil, nil)
	return NewRunner(f.exec, f.store, evictor, sched, nil, opts, nil)
}

func TestRunnerEvictsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.enricher.err = services.Wrap(services.ErrTransient, "enrich", "classify", "timeout", nil)
	sched := &recordingScheduler{}
	runner := newRunner(f, sched, RunnerOptions{MaxAttempts: 3, RetryDelay: 180 * time.Second, LockTTL: time.Minute})
	ctx := context.Background()
	item := mustItem(t, heroKey)

	f.lock(t, heroKey)
	if err := runner.Execute(ctx, item); err == nil {
		t.Fatal("expected failure")
	}
	if f.attempts(t, heroKey) != 1 || f.locked(t, heroKey) {
		t.Fatalf("after first failure: attempts=%d locked=%v", f.attempts(t, heroKey), f.locked(t, heroKey))
	}
	if len(sched.delays) != 1 || sched.delays[0] != 180*time.Second {
		t.Fatalf("scheduled = %v", sched.delays)
	}

	sched.fns[0](ctx)
	if f.attempts(t, heroKey) != 2 {
		t.Fatalf("attempts = %d, want 2", f.attempts(t, heroKey))
	}
	sched.fns[1](ctx)

	if f.enricher.calls != 3 {
		t.Fatalf("enrichment calls = %d, want 3", f.enricher.calls)
	}
	if f.objects.Has(heroKey) {
		t.Fatal("poison item should be deleted")
	}
	if f.attempts(t, heroKey) != 0 || f.locked(t, heroKey) {
		t.Fatal("eviction should clear the counter and the lease")
	}
	if len(sched.fns) != 2 {
		t.Fatalf("no re-attempt should follow eviction, got %d", len(sched.fns))
	}
}

func TestRunnerReattemptSkipsHeldLease(t *testing.T) {
	f := newFixture(t)
	runner := newRunner(f, nil, RunnerOptions{})
	f.lock(t, heroKey)
	if err := runner.Reattempt(context.Background(), mustItem(t, heroKey)); err != nil {
		t.Fatalf("Reattempt: %v", err)
	}
	if f.enricher.calls != 0 {
		t.Fatal("held lease should skip the re-attempt")
	}
}

func TestRunnerReattemptDropsCommittedItem(t *testing.T) {
	f := newFixture(t)
	f.enricher.err = services.Wrap(services.ErrTransient, "enrich", "classify", "timeout", nil)
	sched := &recordingScheduler{}
	runner := newRunner(f, sched, RunnerOptions{})
	ctx := context.Background()
	item := mustItem(t, heroKey)

	f.lock(t, heroKey)
	if err := runner.Execute(ctx, item); err == nil {
		t.Fatal("expected first run to fail")
	}
	if len(sched.fns) != 1 {
		t.Fatalf("scheduled = %d, want 1", len(sched.fns))
	}

	// A discovery pass picks the item up before the delay elapses and commits it.
	f.enricher.err = nil
	f.lock(t, heroKey)
	if err := runner.Execute(ctx, item); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if f.objects.Has(heroKey) || len(f.backend.endpoints) != 1 {
		t.Fatal("second run should commit and delete the asset")
	}

	sched.fns[0](ctx)
	if f.enricher.calls != 2 {
		t.Fatalf("enrichment calls = %d, want 2", f.enricher.calls)
	}
	if f.attempts(t, heroKey) != 0 || f.locked(t, heroKey) {
		t.Fatalf("stale re-attempt left state: attempts=%d locked=%v", f.attempts(t, heroKey), f.locked(t, heroKey))
	}
	if len(sched.fns) != 1 {
		t.Fatalf("stale re-attempt scheduled another run (%d)", len(sched.fns))
	}
	if got := f.objects.Deleted(); len(got) != 1 {
		t.Fatalf("only the commit should delete the asset, got %v", got)
	}
}

func TestRunnerConfigurationErrorIsNotCounted(t *testing.T) {
	f := newFixture(t)
	f.enricher.err = services.Wrap(services.ErrConfiguration, "enrich", "classify", "api key missing", nil)
	sched := &recordingScheduler{}
	runner := newRunner(f, sched, RunnerOptions{})
	f.lock(t, heroKey)

	if err := runner.Execute(context.Background(), mustItem(t, heroKey)); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v", err)
	}
	if f.attempts(t, heroKey) != 0 || f.locked(t, heroKey) || len(sched.fns) != 0 {
		t.Fatal("configuration errors release the lease without counting or rescheduling")
	}
}

func TestRunnerMissingReferenceCap(t *testing.T) {
	f := newFixture(t)
	key := "hero-stories/nobody_99.jpg"
	ctx := context.Background()
	if err := f.objects.Put(ctx, key, []byte("x"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	runner := newRunner(f, nil, RunnerOptions{MissingReferenceCap: 2})
	item := mustItem(t, key)

	f.lock(t, key)
	if err := runner.Execute(ctx, item); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if f.attempts(t, coord.MissingRefPrefix+key) != 1 || !f.objects.Has(key) {
		t.Fatal("first missing pass should only count")
	}
	if err := f.store.ReleaseLock(ctx, key); err != nil {
		t.Fatal(err)
	}
	f.lock(t, key)
	if err := runner.Execute(ctx, item); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if f.objects.Has(key) || f.attempts(t, coord.MissingRefPrefix+key) != 0 {
		t.Fatal("item should be evicted at the cap")
	}
}
