package workflow

import (
	"context"
	"time"

	"scribe/internal/workitem"
)

// Job is a periodic task. Run errors are logged and recorded; the job keeps
// its schedule.
type Job struct {
	Name         string
	Interval     time.Duration
	InitialDelay time.Duration
	Run          func(ctx context.Context) error
}

// Handler executes one leased work item.
type Handler func(ctx context.Context, item workitem.Item) error

type jobState struct {
	job      Job
	runs     int
	lastRun  time.Time
	lastErr  error
	running  bool
	nextRun  time.Time
	disabled bool
}

// JobStatus is a snapshot of one job's bookkeeping.
type JobStatus struct {
	Name      string
	Interval  time.Duration
	Runs      int
	LastRun   time.Time
	NextRun   time.Time
	LastError string
	Running   bool
}
