package api

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	"scribe/internal/objectstore"
	"scribe/internal/services"
	"scribe/internal/workflow"
	"scribe/internal/workitem"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestUploadStoresUnderConvention(t *testing.T) {
	objects := objectstore.NewMemoryStore()
	svc := NewUploadService(objects)
	svc.newGUID = func() string { return "abc123" }

	key, kind, err := svc.Upload(context.Background(), UploadRequest{
		Kind:     "hero-portraits",
		Args:     map[string]string{workitem.ArgEntity: "lahn", workitem.ArgRegion: "kr"},
		Filename: "shot.PNG",
		Data:     pngBytes(t),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if kind != workitem.KindPortrait || key != "hero-portraits/lahn_kr_abc123.png" {
		t.Fatalf("key = %s kind = %s", key, kind)
	}
	if !objects.Has(key) {
		t.Fatal("object not stored")
	}
	item, err := workitem.ParseKey(key)
	if err != nil || item.Entity() != "lahn" {
		t.Fatalf("stored key should parse back: %+v %v", item, err)
	}
}

func TestUploadRejectsBadInput(t *testing.T) {
	svc := NewUploadService(objectstore.NewMemoryStore())
	cases := []UploadRequest{
		{Kind: "nope", Args: map[string]string{workitem.ArgEntity: "x"}, Data: pngBytes(t)},
		{Kind: "story", Args: map[string]string{workitem.ArgEntity: "x"}},
		{Kind: "story", Args: map[string]string{workitem.ArgEntity: "x"}, Data: []byte("plain text")},
		{Kind: "story", Args: map[string]string{workitem.ArgEntity: "bad_name"}, Data: pngBytes(t)},
		{Kind: "portrait", Args: map[string]string{workitem.ArgEntity: "lahn"}, Data: pngBytes(t)},
	}
	for i, req := range cases {
		if _, _, err := svc.Upload(context.Background(), req); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("case %d: err = %v", i, err)
		}
	}
}

func TestFromStatusSummary(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	summary := workflow.StatusSummary{
		Running:   true,
		StartedAt: started,
		Workers:   4,
		Executed:  2,
		LastItem:  &workitem.Item{Key: "hero-stories/lahn_x.jpg", Kind: workitem.KindStory, Args: map[string]string{"entity": "lahn"}},
		Jobs:      []workflow.JobStatus{{Name: "scan-story", Interval: 2 * time.Minute, Runs: 3}},
		Health: map[string]workflow.Health{
			"store": workflow.Healthy("store"),
			"llm":   workflow.Unhealthy("llm", "missing key"),
		},
	}
	dto := FromStatusSummary(summary)
	if !dto.Running || dto.Workers != 4 || !strings.HasPrefix(dto.StartedAt, "2026-03-01T12:00:00.000") {
		t.Fatalf("dto = %+v", dto)
	}
	if dto.LastItem == nil || dto.LastItem.Entity != "lahn" || dto.LastItem.Kind != "story" {
		t.Fatalf("last item = %+v", dto.LastItem)
	}
	if len(dto.Jobs) != 1 || dto.Jobs[0].IntervalSeconds != 120 || dto.Jobs[0].LastRun != "" {
		t.Fatalf("jobs = %+v", dto.Jobs)
	}
	if len(dto.Health) != 2 || dto.Health[0].Name != "llm" || dto.Health[0].Ready {
		t.Fatalf("health = %+v", dto.Health)
	}
}
