// Package lockfile provides advisory file locks for single-writer discipline.
package lockfile

import (
	"context"
	"fmt"
	"time"
)

// Lock represents a held advisory lock
type Lock struct {
	path string
	file lockHandle
}

// Path returns the lock file path
func (l *Lock) Path() string {
	return l.path
}

// ErrLockHeld is returned when another process holds the lock
type ErrLockHeld struct {
	Path string
}

func (e *ErrLockHeld) Error() string {
	return fmt.Sprintf("lock already held: %s", e.Path)
}

// TryAcquire takes the exclusive lock without blocking.
// Returns ErrLockHeld when another process holds it.
func TryAcquire(path string) (*Lock, error) {
	h, err := tryLock(path)
	if err != nil {
		return nil, err
	}
	return &Lock{path: path, file: h}, nil
}

// Acquire blocks until the lock is available or ctx is done
func Acquire(ctx context.Context, path string) (*Lock, error) {
	for {
		lock, err := TryAcquire(path)
		if err == nil {
			return lock, nil
		}
		if _, held := err.(*ErrLockHeld); !held {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Release drops the lock. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unlock(l.file, l.path)
	l.file = nil
	return err
}
