// Package lock provides named, non-blocking mutual exclusion used to gate
// long-running provider calls and per-session orchestration passes.
package lock

import "context"

// Locker is a named try-lock. TryAcquire never blocks: it returns false when
// the key is already held anywhere in the deployment. Implementations must
// behave correctly whether the deployment is a single process or many.
type Locker interface {
	// TryAcquire attempts to take the named lock. Returns true if acquired.
	TryAcquire(ctx context.Context, key string) (bool, error)

	// Release releases the named lock. Releasing a lock that is not held
	// is a no-op.
	Release(ctx context.Context, key string) error
}

// WithLock runs fn while holding the named lock, releasing it
// unconditionally afterwards. If the lock cannot be acquired, fn is not run
// and held=false is returned.
func WithLock(ctx context.Context, l Locker, key string, fn func() error) (held bool, err error) {
	acquired, err := l.TryAcquire(ctx, key)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		// Release must happen even when fn fails; use a background-safe
		// context so cancellation cannot leak the lock.
		_ = l.Release(context.WithoutCancel(ctx), key)
	}()
	return true, fn()
}
