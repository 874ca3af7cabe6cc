package refcache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"scribe/internal/coord"
	"scribe/internal/logging"
)

// Fetcher reads a full collection from the backend.
type Fetcher interface {
	FetchCollection(ctx context.Context, collection string) ([]json.RawMessage, error)
}

// Refresher rewrites snapshots from the backend. Refresh requests made while a
// refresh is pending collapse into one.
type Refresher struct {
	store       coord.CacheStore
	fetcher     Fetcher
	collections []string
	logger      *slog.Logger
	now         func() time.Time
	requests    chan struct{}
}

// NewRefresher builds a refresher for the named collections.
func NewRefresher(store coord.CacheStore, fetcher Fetcher, logger *slog.Logger, collections ...string) *Refresher {
	return &Refresher{
		store:       store,
		fetcher:     fetcher,
		collections: append([]string(nil), collections...),
		logger:      logging.NewComponentLogger(logger, "refcache"),
		now:         time.Now,
		requests:    make(chan struct{}, 1),
	}
}

// Collections returns the refreshed collection names.
func (r *Refresher) Collections() []string {
	return append([]string(nil), r.collections...)
}

// Refresh fetches every collection. A failed collection keeps its previous
// snapshot; the joined error is returned after all collections were tried.
func (r *Refresher) Refresh(ctx context.Context) error {
	var errs []error
	for _, collection := range r.collections {
		if err := r.RefreshCollection(ctx, collection); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RefreshCollection fetches one collection and replaces its snapshot.
func (r *Refresher) RefreshCollection(ctx context.Context, collection string) error {
	started := r.now()
	nodes, err := r.fetcher.FetchCollection(ctx, collection)
	if err != nil {
		logging.WarnWithContext(r.logger, "reference refresh failed", "refcache_refresh_failed",
			logging.String("collection", collection),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check cms.site_url and backend credentials"),
			logging.String(logging.FieldImpact, "executors keep reading the previous snapshot"),
		)
		return err
	}
	payload, err := json.Marshal(Snapshot{Collection: collection, FetchedAt: started.UTC(), Nodes: nodes})
	if err != nil {
		return err
	}
	if err := r.store.SetCache(ctx, SnapshotKey(collection), payload); err != nil {
		return err
	}
	r.logger.Info("reference snapshot refreshed",
		logging.String(logging.FieldEventType, "refcache_refreshed"),
		logging.String("collection", collection),
		logging.Int("entities", len(nodes)),
		logging.Duration("elapsed", r.now().Sub(started)),
	)
	return nil
}

// Request asks for an asynchronous refresh. It never blocks.
func (r *Refresher) Request() {
	select {
	case r.requests <- struct{}{}:
	default:
	}
}

// Run serves refresh requests until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.requests:
			_ = r.Refresh(ctx)
		}
	}
}
