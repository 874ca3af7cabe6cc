package workflow

import (
	"context"
	"time"

	"scribe/internal/workitem"
)

// ScanFunc runs one discovery pass for kind.
type ScanFunc func(ctx context.Context, kind workitem.Kind) error

// ConfigureScans registers one discovery job per kind. The nth kind's first
// pass waits offset(n) so prefixes are scanned staggered.
func (m *Manager) ConfigureScans(kinds []workitem.Kind, interval time.Duration, offset func(index int) time.Duration, scan ScanFunc) {
	for idx, kind := range kinds {
		m.AddJob(Job{
			Name:         "scan-" + string(kind),
			Interval:     interval,
			InitialDelay: offset(idx),
			Run: func(ctx context.Context) error {
				return scan(ctx, kind)
			},
		})
	}
}
