package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SecureMkdirAll creates directories with secure permissions, handling race conditions
// Uses 0700 permissions (owner-only access) for sensitive data directories
func SecureMkdirAll(path string, perm os.FileMode) error {
	err := os.MkdirAll(path, perm)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// CheckWriteAccess tests if directory is writable by creating and removing a test file
// Returns error if directory is not writable (e.g., read-only filesystem)
func CheckWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".walvault-write-test")

	f, err := os.Create(testFile)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("directory is not writable (permission denied): %s", dir)
		}
		return fmt.Errorf("cannot write to directory: %w", err)
	}
	_ = f.Close()

	if err := os.Remove(testFile); err != nil {
		return fmt.Errorf("cannot remove test file (directory may be read-only): %w", err)
	}

	return nil
}
