package node

import (
	"context"
	"fmt"
	"log/slog"

	"scribe/internal/config"
	"scribe/internal/daemon"
)

// NewServer builds an API-only node that accepts uploads and review notes
// without processing them.
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, ov Overrides) (*daemon.Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	store, err := ov.store(ctx, cfg)
	if err != nil {
		return nil, err
	}
	objects, err := ov.objects(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	d, err := daemon.New(cfg, "serve", store, objects, nil, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, nil
}
