package api

import (
	"sort"
	"time"

	"scribe/internal/workflow"
	"scribe/internal/workitem"
)

// FromWorkItem converts a work item to its API representation.
func FromWorkItem(item workitem.Item) WorkItem {
	dto := WorkItem{
		Key:    item.Key,
		Kind:   string(item.Kind),
		Entity: item.Entity(),
	}
	if len(item.Args) > 0 {
		dto.Args = make(map[string]string, len(item.Args))
		for k, v := range item.Args {
			dto.Args[k] = v
		}
	}
	return dto
}

// FromStatusSummary converts a workflow summary to its API representation.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	dto := WorkflowStatus{
		Running:   summary.Running,
		StartedAt: formatTime(summary.StartedAt),
		Workers:   summary.Workers,
		InFlight:  summary.InFlight,
		Pending:   summary.Pending,
		Executed:  summary.Executed,
		LastError: summary.LastError,
		Jobs:      make([]JobStatus, 0, len(summary.Jobs)),
		Health:    HealthSlice(summary.Health),
	}
	if summary.LastItem != nil {
		item := FromWorkItem(*summary.LastItem)
		dto.LastItem = &item
	}
	for _, job := range summary.Jobs {
		dto.Jobs = append(dto.Jobs, JobStatus{
			Name:            job.Name,
			IntervalSeconds: int(job.Interval / time.Second),
			Runs:            job.Runs,
			LastRun:         formatTime(job.LastRun),
			NextRun:         formatTime(job.NextRun),
			LastError:       job.LastError,
			Running:         job.Running,
		})
	}
	return dto
}

// HealthSlice orders the health map by name.
func HealthSlice(health map[string]workflow.Health) []Health {
	out := make([]Health, 0, len(health))
	for name, h := range health {
		if h.Name == "" {
			h.Name = name
		}
		out = append(out, Health{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
