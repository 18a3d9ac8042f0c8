//go:build !windows

package lockfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type lockHandle = *os.File

// tryLock opens the lock file and takes a non-blocking flock on it.
// The file persists after release; the flock is the lock, not the file.
func tryLock(path string) (lockHandle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, &ErrLockHeld{Path: path}
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	// Record the holder for operators inspecting a stuck lock
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Sync()

	return f, nil
}

func unlock(f lockHandle, path string) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("unlocking %s: %w", path, err)
	}
	return f.Close()
}
