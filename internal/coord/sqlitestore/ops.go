package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Store) TryAcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.nowMillis()
	res, err := s.exec(ctx, `
INSERT INTO leases (key, expires_at) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET expires_at = excluded.expires_at
WHERE leases.expires_at <= ?`, key, now+ttl.Milliseconds(), now)
	if err != nil {
		return false, fmt.Errorf("sqlite acquire lock %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite acquire lock %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *Store) RenewLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.nowMillis()
	res, err := s.exec(ctx, "UPDATE leases SET expires_at = ? WHERE key = ? AND expires_at > ?", now+ttl.Milliseconds(), key, now)
	if err != nil {
		return false, fmt.Errorf("sqlite renew lock %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite renew lock %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *Store) ReleaseLock(ctx context.Context, key string) error {
	if _, err := s.exec(ctx, "DELETE FROM leases WHERE key = ?", key); err != nil {
		return fmt.Errorf("sqlite release lock %s: %w", key, err)
	}
	return nil
}

func (s *Store) LockTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	var expires int64
	err := s.db.QueryRowContext(ctx, "SELECT expires_at FROM leases WHERE key = ?", key).Scan(&expires)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqlite lock ttl %s: %w", key, err)
	}
	remaining := time.Duration(expires-s.nowMillis()) * time.Millisecond
	if remaining <= 0 {
		return 0, false, nil
	}
	return remaining, true, nil
}

func (s *Store) Attempts(ctx context.Context, key string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT value FROM counters WHERE key = ?", key).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite get attempts %s: %w", key, err)
	}
	return n, nil
}

func (s *Store) IncrAttempts(ctx context.Context, key string) (int, error) {
	var n int
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
INSERT INTO counters (key, value) VALUES (?, 1)
ON CONFLICT(key) DO UPDATE SET value = counters.value + 1
RETURNING value`, key).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite incr attempts %s: %w", key, err)
	}
	return n, nil
}

func (s *Store) ResetAttempts(ctx context.Context, key string) error {
	if _, err := s.exec(ctx, `
INSERT INTO counters (key, value) VALUES (?, 0)
ON CONFLICT(key) DO UPDATE SET value = 0`, key); err != nil {
		return fmt.Errorf("sqlite reset attempts %s: %w", key, err)
	}
	return nil
}

func (s *Store) ClearAttempts(ctx context.Context, key string) error {
	if _, err := s.exec(ctx, "DELETE FROM counters WHERE key = ?", key); err != nil {
		return fmt.Errorf("sqlite clear attempts %s: %w", key, err)
	}
	return nil
}

func (s *Store) Enqueue(ctx context.Context, queue string, payload []byte) error {
	if payload == nil {
		payload = []byte{}
	}
	if _, err := s.exec(ctx, "INSERT INTO queue_entries (queue, payload) VALUES (?, ?)", queue, payload); err != nil {
		return fmt.Errorf("sqlite enqueue %s: %w", queue, err)
	}
	return nil
}

func (s *Store) Dequeue(ctx context.Context, queue string) ([]byte, bool, error) {
	payload, ok, err := s.queryBytes(ctx, `
DELETE FROM queue_entries
WHERE id = (SELECT id FROM queue_entries WHERE queue = ? ORDER BY id LIMIT 1)
RETURNING payload`, queue)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite dequeue %s: %w", queue, err)
	}
	return payload, ok, nil
}

func (s *Store) QueueLen(ctx context.Context, queue string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM queue_entries WHERE queue = ?", queue).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite queue len %s: %w", queue, err)
	}
	return n, nil
}

func (s *Store) SetResult(ctx context.Context, id string, payload []byte, ttl time.Duration) error {
	if _, err := s.exec(ctx, `
INSERT INTO results (id, payload, expires_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`,
		id, payload, s.nowMillis()+ttl.Milliseconds()); err != nil {
		return fmt.Errorf("sqlite set result %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, id string) ([]byte, bool, error) {
	payload, ok, err := s.queryBytes(ctx, "SELECT payload FROM results WHERE id = ? AND expires_at > ?", id, s.nowMillis())
	if err != nil {
		return nil, false, fmt.Errorf("sqlite get result %s: %w", id, err)
	}
	return payload, ok, nil
}

func (s *Store) TakeResult(ctx context.Context, id string) ([]byte, bool, error) {
	now := s.nowMillis()
	payload, ok, err := s.queryBytes(ctx, "DELETE FROM results WHERE id = ? AND expires_at > ? RETURNING payload", id, now)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite take result %s: %w", id, err)
	}
	if !ok {
		// Drop a stale slot so it cannot resurface if the clock moves back.
		if _, err := s.exec(ctx, "DELETE FROM results WHERE id = ? AND expires_at <= ?", id, now); err != nil {
			return nil, false, fmt.Errorf("sqlite purge result %s: %w", id, err)
		}
	}
	return payload, ok, nil
}

func (s *Store) DeleteResult(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, "DELETE FROM results WHERE id = ?", id); err != nil {
		return fmt.Errorf("sqlite delete result %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetCache(ctx context.Context, name string) ([]byte, bool, error) {
	payload, ok, err := s.queryBytes(ctx, "SELECT payload FROM snapshots WHERE name = ?", name)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite get cache %s: %w", name, err)
	}
	return payload, ok, nil
}

func (s *Store) SetCache(ctx context.Context, name string, payload []byte) error {
	if _, err := s.exec(ctx, `
INSERT INTO snapshots (name, payload, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		name, payload, s.nowMillis()); err != nil {
		return fmt.Errorf("sqlite set cache %s: %w", name, err)
	}
	return nil
}
