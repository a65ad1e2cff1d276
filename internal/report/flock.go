package report

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// DefaultLockTimeout is how long to wait for a file lock before giving up.
const DefaultLockTimeout = 5 * time.Second

// WithLock acquires an exclusive lock on path's lockfile, runs fn, and
// releases the lock. A watch-mode sweep and a manual run can target the
// same archive, so report writes serialize here.
func WithLock(path string, timeout time.Duration, fn func() error) error {
	lock := flock.New(path + ".lock")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring lock for %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("could not acquire lock for %s within %s", path, timeout)
	}
	defer lock.Unlock()

	return fn()
}

// WithReadLock acquires a shared lock on path's lockfile, runs fn, and
// releases the lock.
func WithReadLock(path string, timeout time.Duration, fn func() error) error {
	lock := flock.New(path + ".lock")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	locked, err := lock.TryRLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring read lock for %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("could not acquire read lock for %s within %s", path, timeout)
	}
	defer lock.Unlock()

	return fn()
}
