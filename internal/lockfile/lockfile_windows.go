//go:build windows

package lockfile

import (
	"fmt"
	"os"
)

type lockHandle = *os.File

// tryLock creates the lock file exclusively. Windows has no flock, so the
// file's existence is the lock and release removes it.
func tryLock(path string) (lockHandle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, &ErrLockHeld{Path: path}
		}
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Sync()

	return f, nil
}

func unlock(f lockHandle, path string) error {
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
