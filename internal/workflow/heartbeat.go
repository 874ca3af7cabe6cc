package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"scribe/internal/coord"
	"scribe/internal/logging"
)

// HeartbeatMonitor keeps a work item's lease alive while it executes.
type HeartbeatMonitor struct {
	leases   coord.LockStore
	logger   *slog.Logger
	interval time.Duration
	ttl      time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(leases coord.LockStore, logger *slog.Logger, interval, ttl time.Duration) *HeartbeatMonitor {
	if interval <= 0 {
		interval = ttl / 3
	}
	return &HeartbeatMonitor{
		leases:   leases,
		logger:   logger,
		interval: interval,
		ttl:      ttl,
	}
}

// StartLoop renews key's lease until ctx is cancelled or the lease is gone.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, key string) {
	defer wg.Done()
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String("component", "workflow-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := h.leases.RenewLock(ctx, key, h.ttl)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("lease renewal failed",
					logging.String(logging.FieldObjectKey, key),
					logging.Error(err),
				)
				continue
			}
			if !held {
				return
			}
		}
	}
}
