// Package redisstore implements the coordination store on Redis so that any
// number of worker and notifier processes can share leases and queues.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"scribe/internal/coord"
)

// Options describes the Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store implements coord.Store with single-key atomic Redis commands.
type Store struct {
	client redis.UniversalClient
	keys   coord.Keys
}

// New creates a store backed by a fresh Redis client. It does not dial; call
// Ping to verify connectivity.
func New(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(client, opts.KeyPrefix)
}

// NewWithClient wraps an existing client, which the store takes ownership of.
func NewWithClient(client redis.UniversalClient, keyPrefix string) *Store {
	return &Store{client: client, keys: coord.Keys{Prefix: keyPrefix}}
}

func (s *Store) TryAcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keys.Lock(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis acquire lock %s: %w", key, err)
	}
	return ok, nil
}

func (s *Store) RenewLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	err := s.client.SetArgs(ctx, s.keys.Lock(key), 1, redis.SetArgs{Mode: "XX", TTL: ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis renew lock %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) ReleaseLock(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keys.Lock(key)).Err(); err != nil {
		return fmt.Errorf("redis release lock %s: %w", key, err)
	}
	return nil
}

func (s *Store) LockTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	ttl, err := s.client.PTTL(ctx, s.keys.Lock(key)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("redis lock ttl %s: %w", key, err)
	}
	// -2 means missing; -1 means no expiry, which leases never have.
	if ttl < 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

func (s *Store) Attempts(ctx context.Context, key string) (int, error) {
	raw, err := s.client.Get(ctx, s.keys.Attempts(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get attempts %s: %w", key, err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("redis attempts %s: parse %q: %w", key, raw, err)
	}
	return n, nil
}

func (s *Store) IncrAttempts(ctx context.Context, key string) (int, error) {
	n, err := s.client.Incr(ctx, s.keys.Attempts(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr attempts %s: %w", key, err)
	}
	return int(n), nil
}

func (s *Store) ResetAttempts(ctx context.Context, key string) error {
	if err := s.client.Set(ctx, s.keys.Attempts(key), 0, 0).Err(); err != nil {
		return fmt.Errorf("redis reset attempts %s: %w", key, err)
	}
	return nil
}

func (s *Store) ClearAttempts(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keys.Attempts(key)).Err(); err != nil {
		return fmt.Errorf("redis clear attempts %s: %w", key, err)
	}
	return nil
}

func (s *Store) Enqueue(ctx context.Context, queue string, payload []byte) error {
	if err := s.client.RPush(ctx, s.keys.Queue(queue), payload).Err(); err != nil {
		return fmt.Errorf("redis enqueue %s: %w", queue, err)
	}
	return nil
}

func (s *Store) Dequeue(ctx context.Context, queue string) ([]byte, bool, error) {
	payload, err := s.client.LPop(ctx, s.keys.Queue(queue)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis dequeue %s: %w", queue, err)
	}
	return payload, true, nil
}

func (s *Store) QueueLen(ctx context.Context, queue string) (int64, error) {
	n, err := s.client.LLen(ctx, s.keys.Queue(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis queue len %s: %w", queue, err)
	}
	return n, nil
}

func (s *Store) SetResult(ctx context.Context, id string, payload []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.keys.Result(id), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set result %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, id string) ([]byte, bool, error) {
	return s.getBytes(ctx, s.keys.Result(id), "get result")
}

func (s *Store) TakeResult(ctx context.Context, id string) ([]byte, bool, error) {
	payload, err := s.client.GetDel(ctx, s.keys.Result(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis take result %s: %w", id, err)
	}
	return payload, true, nil
}

func (s *Store) DeleteResult(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.keys.Result(id)).Err(); err != nil {
		return fmt.Errorf("redis delete result %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetCache(ctx context.Context, name string) ([]byte, bool, error) {
	return s.getBytes(ctx, s.keys.Cache(name), "get cache")
}

func (s *Store) SetCache(ctx context.Context, name string, payload []byte) error {
	if err := s.client.Set(ctx, s.keys.Cache(name), payload, 0).Err(); err != nil {
		return fmt.Errorf("redis set cache %s: %w", name, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) getBytes(ctx context.Context, key, op string) ([]byte, bool, error) {
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis %s %s: %w", op, key, err)
	}
	return payload, true, nil
}
