// Compression-aware tar extraction for snapshot restore.
package compression

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileCallback is called once per extracted entry
type FileCallback func(name string)

// ExtractTar extracts a tar archive into destDir, decompressing per the
// file's extension. Extracted files are synced before close so a crash
// right after restore never leaves torn cluster files. Entries that
// would escape destDir are rejected.
func ExtractTar(ctx context.Context, archivePath, destDir string, onFile FileCallback) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("cannot open archive: %w", err)
	}
	defer file.Close()

	dec, err := NewDecompressor(file, archivePath)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", filepath.Base(archivePath), err)
	}
	defer dec.Close()

	tarReader := tar.NewReader(dec)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar: %w", err)
		}

		targetPath := filepath.Join(destDir, header.Name)
		if !strings.HasPrefix(filepath.Clean(targetPath), filepath.Clean(destDir)) {
			return fmt.Errorf("path traversal detected: %s", header.Name)
		}

		if onFile != nil {
			onFile(header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0700); err != nil {
				return fmt.Errorf("cannot create directory %s: %w", targetPath, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0700); err != nil {
				return fmt.Errorf("cannot create parent directory: %w", err)
			}
			if err := writeEntry(targetPath, tarReader); err != nil {
				return err
			}

		case tar.TypeSymlink:
			linkTarget := header.Linkname
			absTarget := filepath.Join(filepath.Dir(targetPath), linkTarget)
			if !strings.HasPrefix(filepath.Clean(absTarget), filepath.Clean(destDir)) {
				// Skip symlinks that point outside
				continue
			}
			if err := os.Symlink(linkTarget, targetPath); err != nil {
				// Symlinks may be unsupported on the target filesystem
				continue
			}

		default:
			// Skip other types (devices, etc.)
			continue
		}
	}

	return nil
}

func writeEntry(targetPath string, r io.Reader) error {
	outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("cannot create file %s: %w", targetPath, err)
	}
	if _, err := io.Copy(outFile, r); err != nil {
		outFile.Close()
		return fmt.Errorf("error writing %s: %w", targetPath, err)
	}
	if err := outFile.Sync(); err != nil {
		outFile.Close()
		return fmt.Errorf("error syncing %s: %w", targetPath, err)
	}
	return outFile.Close()
}

// EstimateCompressionRatio samples the archive to estimate uncompressed
// size. Returns a multiplier over the stored size; 3.0 when sampling is
// inconclusive, 1.0 for uncompressed archives.
func EstimateCompressionRatio(archivePath string) (float64, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return 3.0, err
	}
	defer file.Close()

	dec, err := NewDecompressor(file, archivePath)
	if err != nil {
		return 3.0, err
	}
	defer dec.Close()

	if dec.Algorithm() == AlgorithmNone {
		return 1.0, nil
	}

	// Sample the first 1MB of decompressed data
	buf := make([]byte, 1<<20)
	n, _ := io.ReadFull(dec, buf)
	if n < 1024 {
		return 3.0, nil
	}

	pos, err := file.Seek(0, io.SeekCurrent)
	if err != nil || pos <= 0 {
		return 3.0, nil
	}

	ratio := float64(n) / float64(pos)
	if ratio > 1.0 && ratio < 20.0 {
		return ratio, nil
	}
	return 3.0, nil
}
