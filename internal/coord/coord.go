package coord

import (
	"context"
	"time"
)

// LockStore grants per-key leases. A lease is held until released or until its
// TTL elapses, whichever comes first; at most one holder exists per key.
type LockStore interface {
	TryAcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// RenewLock extends a lease only if it is still held.
	RenewLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
	// LockTTL reports the remaining lease time, or false when no lease exists.
	LockTTL(ctx context.Context, key string) (time.Duration, bool, error)
}

// AttemptStore tracks failure counts per key. Missing counters read as zero.
type AttemptStore interface {
	Attempts(ctx context.Context, key string) (int, error)
	IncrAttempts(ctx context.Context, key string) (int, error)
	// ResetAttempts stores zero without removing the counter.
	ResetAttempts(ctx context.Context, key string) error
	ClearAttempts(ctx context.Context, key string) error
}

// Queue is a named FIFO of opaque payloads.
type Queue interface {
	Enqueue(ctx context.Context, queue string, payload []byte) error
	// Dequeue pops the oldest payload without blocking.
	Dequeue(ctx context.Context, queue string) ([]byte, bool, error)
	QueueLen(ctx context.Context, queue string) (int64, error)
}

// ResultStore holds short-lived result slots keyed by task id.
type ResultStore interface {
	SetResult(ctx context.Context, id string, payload []byte, ttl time.Duration) error
	GetResult(ctx context.Context, id string) ([]byte, bool, error)
	// TakeResult reads and deletes a slot atomically so a verdict is consumed once.
	TakeResult(ctx context.Context, id string) ([]byte, bool, error)
	DeleteResult(ctx context.Context, id string) error
}

// CacheStore holds named snapshots without expiry.
type CacheStore interface {
	GetCache(ctx context.Context, name string) ([]byte, bool, error)
	SetCache(ctx context.Context, name string, payload []byte) error
}

// Store is the full coordination surface shared by every process.
type Store interface {
	LockStore
	AttemptStore
	Queue
	ResultStore
	CacheStore
	Ping(ctx context.Context) error
	Close() error
}

// Keys namespaces store keys so several deployments can share one backend.
type Keys struct {
	Prefix string
}

func (k Keys) Lock(key string) string     { return k.Prefix + "lock:" + key }
func (k Keys) Attempts(key string) string { return k.Prefix + "attempts:" + key }
func (k Keys) Result(id string) string    { return k.Prefix + "result:" + id }
func (k Keys) Queue(name string) string   { return k.Prefix + "queue:" + name }
func (k Keys) Cache(name string) string   { return k.Prefix + "cache:" + name }

// Well-known queue and counter names.
const (
	ProposalQueue = "proposals"
	ReviewQueue   = "hero_reviews"
	// MissingRefPrefix namespaces the counter of discovery passes that found
	// no reference entity for an asset.
	MissingRefPrefix = "missing-ref:"
)
