package lock

import (
	"context"
	"sync"
)

// MemoryLocker is an in-process Locker backed by a mutex-guarded set. It is
// correct for single-process deployments and for tests; distributed
// deployments use the advisory-lock implementation instead.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// Compile-time interface verification.
var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker creates an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

// TryAcquire implements Locker.
func (l *MemoryLocker) TryAcquire(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

// Release implements Locker.
func (l *MemoryLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, key)
	return nil
}
