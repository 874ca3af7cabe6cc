// Package objectstore is the boundary to the bucket holding uploaded
// screenshots. Discovery lists it, executors read and presign from it, and a
// committed or evicted item is deleted from it.
package objectstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports a key that does not exist in the bucket.
var ErrNotFound = errors.New("object not found")

// Object describes one listed key.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the object store surface the pipeline needs.
type Store interface {
	List(ctx context.Context, prefix string) ([]Object, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether key is present without reading it.
	Exists(ctx context.Context, key string) (bool, error)
	// PresignGet returns a time-limited URL an external service can fetch.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}
