package lock

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLocker is a Locker backed by PostgreSQL session advisory locks,
// giving mutual exclusion across every process sharing the database.
//
// Session advisory locks are bound to the connection that took them, so each
// held key pins one pooled connection until release. The number of provider
// lanes bounds the number of pinned connections.
type AdvisoryLocker struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	conns map[string]*pgxpool.Conn
}

// Compile-time interface verification.
var _ Locker = (*AdvisoryLocker)(nil)

// NewAdvisoryLocker creates an advisory-lock based Locker on the given pool.
func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{
		pool:  pool,
		conns: make(map[string]*pgxpool.Conn),
	}
}

// TryAcquire implements Locker using pg_try_advisory_lock.
func (l *AdvisoryLocker) TryAcquire(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	if _, ok := l.conns[key]; ok {
		// Already held by this process; treat as contended rather than
		// re-entrant.
		l.mu.Unlock()
		return false, nil
	}
	l.mu.Unlock()

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection for advisory lock: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", KeyID(key)).Scan(&acquired); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock %q: %w", key, err)
	}
	if !acquired {
		conn.Release()
		return false, nil
	}

	l.mu.Lock()
	l.conns[key] = conn
	l.mu.Unlock()
	return true, nil
}

// Release implements Locker using pg_advisory_unlock on the connection that
// holds the lock.
func (l *AdvisoryLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	conn, ok := l.conns[key]
	delete(l.conns, key)
	l.mu.Unlock()

	if !ok {
		return nil
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", KeyID(key)); err != nil {
		return fmt.Errorf("advisory unlock %q: %w", key, err)
	}
	return nil
}

// KeyID maps a lock key to the 64-bit integer namespace advisory locks use.
// FNV-1a keeps the mapping stable across processes and releases.
func KeyID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
