package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"scribe/internal/coord"
	"scribe/internal/logging"
	"scribe/internal/workitem"
)

// Options tunes the pool.
type Options struct {
	// Workers bounds concurrently executing items.
	Workers int
	// Backlog is the dispatch channel capacity. Dispatch refuses items once
	// it is full so the scanner can release their leases.
	Backlog int
	// LeaseTTL is the TTL the heartbeat renews leases to; zero disables
	// renewal.
	LeaseTTL time.Duration
}

// Manager coordinates periodic jobs and item execution.
type Manager struct {
	leases  coord.LockStore
	handler Handler
	opts    Options
	logger  *slog.Logger

	heartbeat *HeartbeatMonitor
	items     chan dispatched

	mu       sync.RWMutex
	jobs     []*jobState
	checks   map[string]HealthCheck
	running  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inFlight int
	executed int
	pending  int
	lastErr  error
	lastItem *workitem.Item
	started  time.Time
}

type dispatched struct {
	item workitem.Item
}

// NewManager constructs a manager. leases may be nil when no lease renewal
// is wanted.
func NewManager(leases coord.LockStore, handler Handler, opts Options, logger *slog.Logger) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Backlog <= 0 {
		opts.Backlog = opts.Workers * 4
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	m := &Manager{
		leases:  leases,
		handler: handler,
		opts:    opts,
		logger:  logger,
		items:   make(chan dispatched, opts.Backlog),
		checks:  make(map[string]HealthCheck),
	}
	if leases != nil && opts.LeaseTTL > 0 {
		m.heartbeat = NewHeartbeatMonitor(leases, logger, opts.LeaseTTL/3, opts.LeaseTTL)
	}
	return m
}

// AddJob registers a periodic job. Jobs added after Start are ignored until
// the next Start.
func (m *Manager) AddJob(job Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, &jobState{job: job})
}

// AddHealthCheck registers a readiness probe reported by Status.
func (m *Manager) AddHealthCheck(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}
