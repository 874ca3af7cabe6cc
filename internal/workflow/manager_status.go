package workflow

import (
	"context"
	"sort"
	"time"

	"scribe/internal/workitem"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running   bool
	StartedAt time.Time
	Workers   int
	InFlight  int
	Pending   int
	Executed  int
	LastError string
	LastItem  *workitem.Item
	Jobs      []JobStatus
	Health    map[string]Health
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:   m.running,
		StartedAt: m.started,
		Workers:   m.opts.Workers,
		InFlight:  m.inFlight,
		Pending:   m.pending,
		Executed:  m.executed,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastItem != nil {
		copy := *m.lastItem
		summary.LastItem = &copy
	}
	for _, js := range m.jobs {
		if js.disabled {
			continue
		}
		status := JobStatus{
			Name:     js.job.Name,
			Interval: js.job.Interval,
			Runs:     js.runs,
			LastRun:  js.lastRun,
			NextRun:  js.nextRun,
			Running:  js.running,
		}
		if js.lastErr != nil {
			status.LastError = js.lastErr.Error()
		}
		summary.Jobs = append(summary.Jobs, status)
	}
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()

	sort.Slice(summary.Jobs, func(i, j int) bool { return summary.Jobs[i].Name < summary.Jobs[j].Name })
	summary.Health = make(map[string]Health, len(checks))
	for name, check := range checks {
		summary.Health[name] = check(ctx)
	}
	return summary
}
