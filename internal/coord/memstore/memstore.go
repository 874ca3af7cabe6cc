// Package memstore is an in-process coordination store with an injectable
// clock. It backs unit tests and single-process development runs.
package memstore

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	expires time.Time
}

type slot struct {
	payload []byte
	expires time.Time
}

// Store satisfies coord.Store using maps guarded by one mutex.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	locks    map[string]lease
	counters map[string]int
	queues   map[string][][]byte
	results  map[string]slot
	cache    map[string][]byte
}

// Option customizes the store.
type Option func(*Store)

// WithClock overrides the time source used for lease and result expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		locks:    make(map[string]lease),
		counters: make(map[string]int),
		queues:   make(map[string][][]byte),
		results:  make(map[string]slot),
		cache:    make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) TryAcquireLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if l, ok := s.locks[key]; ok && now.Before(l.expires) {
		return false, nil
	}
	s.locks[key] = lease{expires: now.Add(ttl)}
	return true, nil
}

func (s *Store) RenewLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	l, ok := s.locks[key]
	if !ok || !now.Before(l.expires) {
		delete(s.locks, key)
		return false, nil
	}
	s.locks[key] = lease{expires: now.Add(ttl)}
	return true, nil
}

func (s *Store) ReleaseLock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}

func (s *Store) LockTTL(_ context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		return 0, false, nil
	}
	remaining := l.expires.Sub(s.now())
	if remaining <= 0 {
		delete(s.locks, key)
		return 0, false, nil
	}
	return remaining, true, nil
}

func (s *Store) Attempts(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key], nil
}

func (s *Store) IncrAttempts(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key], nil
}

func (s *Store) ResetAttempts(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] = 0
	return nil
}

func (s *Store) ClearAttempts(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
	return nil
}

func (s *Store) Enqueue(_ context.Context, queue string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[queue] = append(s.queues[queue], clone(payload))
	return nil
}

func (s *Store) Dequeue(_ context.Context, queue string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.queues[queue]
	if len(items) == 0 {
		return nil, false, nil
	}
	head := items[0]
	s.queues[queue] = items[1:]
	return head, true, nil
}

func (s *Store) QueueLen(_ context.Context, queue string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.queues[queue])), nil
}

func (s *Store) SetResult(_ context.Context, id string, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[id] = slot{payload: clone(payload), expires: s.now().Add(ttl)}
	return nil
}

func (s *Store) GetResult(_ context.Context, id string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.liveResult(id)
	if !ok {
		return nil, false, nil
	}
	return clone(r.payload), true, nil
}

func (s *Store) TakeResult(_ context.Context, id string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.liveResult(id)
	if !ok {
		return nil, false, nil
	}
	delete(s.results, id)
	return r.payload, true, nil
}

func (s *Store) DeleteResult(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, id)
	return nil
}

func (s *Store) liveResult(id string) (slot, bool) {
	r, ok := s.results[id]
	if !ok {
		return slot{}, false
	}
	if !s.now().Before(r.expires) {
		delete(s.results, id)
		return slot{}, false
	}
	return r, true
}

func (s *Store) GetCache(_ context.Context, name string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.cache[name]
	if !ok {
		return nil, false, nil
	}
	return clone(payload), true, nil
}

func (s *Store) SetCache(_ context.Context, name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[name] = clone(payload)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
