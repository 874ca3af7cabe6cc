package refcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"scribe/internal/coord"
	"scribe/internal/services"
)

var (
	// ErrNoSnapshot reports a collection that has never been refreshed.
	ErrNoSnapshot = fmt.Errorf("%w: reference snapshot missing", services.ErrNotFound)
	// ErrEntityNotFound reports a reference absent from the snapshot.
	ErrEntityNotFound = fmt.Errorf("%w: reference entity missing", services.ErrNotFound)
)

// Entity is one backend record. Raw keeps every field the backend returned.
type Entity struct {
	ID    int64           `json:"databaseId"`
	Slug  string          `json:"slug"`
	Title string          `json:"title"`
	Raw   json.RawMessage `json:"-"`
}

// Decode unmarshals the full backend record into target.
func (e Entity) Decode(target any) error {
	if len(e.Raw) == 0 {
		return errors.New("entity has no raw payload")
	}
	return json.Unmarshal(e.Raw, target)
}

// Snapshot is the stored form of one collection.
type Snapshot struct {
	Collection string            `json:"collection"`
	FetchedAt  time.Time         `json:"fetched_at"`
	Nodes      []json.RawMessage `json:"nodes"`
}

// Entities decodes the snapshot nodes.
func (s Snapshot) Entities() ([]Entity, error) {
	out := make([]Entity, 0, len(s.Nodes))
	for idx, raw := range s.Nodes {
		var entity Entity
		if err := json.Unmarshal(raw, &entity); err != nil {
			return nil, fmt.Errorf("decode %s node %d: %w", s.Collection, idx, err)
		}
		entity.Raw = raw
		out = append(out, entity)
	}
	return out, nil
}

// SnapshotKey is the cache name a collection is stored under.
func SnapshotKey(collection string) string {
	return "refcache:" + collection
}

// Cache reads snapshots from the coordination store.
type Cache struct {
	store coord.CacheStore
}

// New creates a reader over store.
func New(store coord.CacheStore) *Cache {
	return &Cache{store: store}
}

// Snapshot loads the current snapshot for collection.
func (c *Cache) Snapshot(ctx context.Context, collection string) (Snapshot, error) {
	payload, ok, err := c.store.GetCache(ctx, SnapshotKey(collection))
	if err != nil {
		return Snapshot{}, err
	}
	if !ok {
		return Snapshot{}, fmt.Errorf("%s: %w", collection, ErrNoSnapshot)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, services.Wrap(services.ErrValidation, "refcache", "load", "decode "+collection, err)
	}
	return snap, nil
}

// Lookup resolves an entity by slug.
func (c *Cache) Lookup(ctx context.Context, collection, slug string) (Entity, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	return c.find(ctx, collection, slug, func(e Entity) bool {
		return strings.ToLower(e.Slug) == slug
	})
}

// LookupTitle resolves an entity by display title, ignoring case.
func (c *Cache) LookupTitle(ctx context.Context, collection, title string) (Entity, error) {
	title = strings.TrimSpace(title)
	return c.find(ctx, collection, title, func(e Entity) bool {
		return strings.EqualFold(e.Title, title)
	})
}

func (c *Cache) find(ctx context.Context, collection, ref string, match func(Entity) bool) (Entity, error) {
	snap, err := c.Snapshot(ctx, collection)
	if err != nil {
		return Entity{}, err
	}
	entities, err := snap.Entities()
	if err != nil {
		return Entity{}, services.Wrap(services.ErrValidation, "refcache", "lookup", collection, err)
	}
	for _, entity := range entities {
		if match(entity) {
			return entity, nil
		}
	}
	return Entity{}, fmt.Errorf("%s/%s: %w", collection, ref, ErrEntityNotFound)
}

// IsMissing reports whether err means the reference could not be resolved.
func IsMissing(err error) bool {
	return errors.Is(err, ErrNoSnapshot) || errors.Is(err, ErrEntityNotFound)
}
