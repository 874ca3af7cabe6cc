package executor

import (
	"context"
	"errors"
	"log/slog"

	"scribe/internal/coord"
	"scribe/internal/logging"
	"scribe/internal/notifications"
	"scribe/internal/objectstore"
)

// Evictor drops poison items: the asset, both counters and the lease.
type Evictor struct {
	store    Store
	objects  objectstore.Store
	notifier notifications.Service
	logger   *slog.Logger
}

// NewEvictor builds an evictor.
func NewEvictor(store Store, objects objectstore.Store, notifier notifications.Service, logger *slog.Logger) *Evictor {
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	return &Evictor{
		store:    store,
		objects:  objects,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "evictor"),
	}
}

// Evict deletes key's asset and clears its coordination state. A missing
// asset is not an error.
func (e *Evictor) Evict(ctx context.Context, key, reason string) error {
	if err := e.objects.Delete(ctx, key); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		return err
	}
	if err := e.store.ClearAttempts(ctx, key); err != nil {
		return err
	}
	if err := e.store.ClearAttempts(ctx, coord.MissingRefPrefix+key); err != nil {
		return err
	}
	if err := e.store.ReleaseLock(ctx, key); err != nil {
		return err
	}
	logging.WarnWithContext(e.logger, "work item evicted", "item_evicted",
		logging.String(logging.FieldObjectKey, key),
		logging.String("reason", reason),
		logging.String(logging.FieldErrorHint, "re-upload the screenshot once the cause is fixed"),
		logging.String(logging.FieldImpact, "the screenshot was deleted without updating the site"),
	)
	if err := e.notifier.NotifyItemEvicted(ctx, key, reason); err != nil {
		e.logger.Debug("eviction notification failed", logging.Error(err))
	}
	return nil
}
