// Package lock provides cross-process advisory locks for minion lifecycle
// operations. The Runtime layer does not serialize concurrent operations on
// the same workspace; callers hold one of these locks around read-modify-write
// sequences instead.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock is a cross-process advisory lock backed by flock(2).
// Unlike sync.Mutex it provides mutual exclusion across separate CLI
// invocations operating on the same minion.
type Lock struct {
	fl *flock.Flock
}

// New creates a lock for the given path. The lock file is created on first
// acquire if it does not exist.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// ForMinion returns the canonical lifecycle lock for a minion, keyed by its
// stable id so renames do not change the lock identity.
func ForMinion(stateDir, minionID string) *Lock {
	return New(filepath.Join(stateDir, "locks", minionID+".lock"))
}

// Lock acquires the lock, blocking until it is available.
func (l *Lock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	if err := l.fl.Lock(); err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if another process holds it.
func (l *Lock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o755); err != nil {
		return false, fmt.Errorf("creating lock directory: %w", err)
	}
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquiring lock: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *Lock) Unlock() error {
	return l.fl.Unlock()
}

// WithLock executes fn while holding the lock.
func (l *Lock) WithLock(fn func() error) error {
	if err := l.Lock(); err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}
