// Package fs provides filesystem abstraction using spf13/afero for testability.
// It allows swapping the real filesystem with an in-memory mock for unit tests.
package fs

import (
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FS is the global filesystem interface used throughout the application.
// By default, it uses the real OS filesystem.
// For testing, use SetFS(afero.NewMemMapFs()) to use an in-memory filesystem.
var FS afero.Fs = afero.NewOsFs()

// SetFS sets the global filesystem (useful for testing)
func SetFS(fs afero.Fs) {
	FS = fs
}

// ResetFS resets to the real OS filesystem
func ResetFS() {
	FS = afero.NewOsFs()
}

// NewMemMapFs creates a new in-memory filesystem for testing
func NewMemMapFs() afero.Fs {
	return afero.NewMemMapFs()
}

// --- File Operations (use global FS) ---

// Create creates a file
func Create(name string) (afero.File, error) {
	return FS.Create(name)
}

// Open opens a file for reading
func Open(name string) (afero.File, error) {
	return FS.Open(name)
}

// OpenFile opens a file with specified flags and permissions
func OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	return FS.OpenFile(name, flag, perm)
}

// Remove removes a file or empty directory
func Remove(name string) error {
	return FS.Remove(name)
}

// RemoveAll removes a path and any children it contains
func RemoveAll(path string) error {
	return FS.RemoveAll(path)
}

// Rename renames (moves) a file
func Rename(oldname, newname string) error {
	return FS.Rename(oldname, newname)
}

// Stat returns file info
func Stat(name string) (os.FileInfo, error) {
	return FS.Stat(name)
}

// --- Directory Operations ---

// MkdirAll creates a directory and all parents
func MkdirAll(path string, perm os.FileMode) error {
	return FS.MkdirAll(path, perm)
}

// ReadDir reads a directory
func ReadDir(dirname string) ([]os.FileInfo, error) {
	return afero.ReadDir(FS, dirname)
}

// --- File Content Operations ---

// ReadFile reads an entire file
func ReadFile(filename string) ([]byte, error) {
	return afero.ReadFile(FS, filename)
}

// WriteFile writes data to a file
func WriteFile(filename string, data []byte, perm os.FileMode) error {
	return afero.WriteFile(FS, filename, data, perm)
}

// WriteFileAtomic writes data to a temporary sibling and renames it over
// filename, so readers never observe a torn write
func WriteFileAtomic(filename string, data []byte, perm os.FileMode) error {
	tmp := filename + ".tmp"

	f, err := FS.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = FS.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = FS.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = FS.Remove(tmp)
		return err
	}

	if err := FS.Rename(tmp, filename); err != nil {
		_ = FS.Remove(tmp)
		return err
	}
	return nil
}

// --- Existence Checks ---

// Exists checks if a file or directory exists
func Exists(path string) (bool, error) {
	return afero.Exists(FS, path)
}

// DirExists checks if a directory exists
func DirExists(path string) (bool, error) {
	return afero.DirExists(FS, path)
}

// IsEmpty checks if a directory is empty
func IsEmpty(path string) (bool, error) {
	return afero.IsEmpty(FS, path)
}

// --- Utility Functions ---

// Walk walks a directory tree
func Walk(root string, walkFn filepath.WalkFunc) error {
	return afero.Walk(FS, root, walkFn)
}

// FileSize returns the size of a file
func FileSize(path string) (int64, error) {
	info, err := FS.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// CopyFile copies a file from src to dst, fsyncing the destination
func CopyFile(src, dst string) error {
	srcFile, err := FS.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = srcFile.Close() }()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	dstFile, err := FS.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode())
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return err
	}
	if err := dstFile.Sync(); err != nil {
		_ = dstFile.Close()
		return err
	}
	return dstFile.Close()
}

// CopyTree copies the directory tree rooted at src into dst, preserving
// relative layout and file modes
func CopyTree(src, dst string) error {
	return Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return FS.MkdirAll(target, info.Mode().Perm())
		}
		return CopyFile(path, target)
	})
}

// TreeSize returns the total byte size of all regular files under root
func TreeSize(root string) (int64, error) {
	var total int64
	err := Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
