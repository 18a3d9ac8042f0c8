package compression

import (
	"fmt"
	"io"

	"walvault/internal/fs"
)

// VerifyResult holds the outcome of a stream integrity check.
type VerifyResult struct {
	Algorithm         Algorithm
	Valid             bool
	BytesCompressed   int64
	BytesDecompressed int64
	Error             error
}

// VerifyStream performs a full decompression pass on a compressed file to
// verify that the stream is complete (proper EOF) and checksums match. This
// is run before a snapshot is extracted into an empty data directory, so a
// truncated or corrupted archive fails the restore before any work is done.
//
// The cost is one full read of the compressed file. Uncompressed files are
// reported valid without a verification pass.
func VerifyStream(filePath string) (*VerifyResult, error) {
	result := &VerifyResult{}

	f, err := fs.Open(filePath)
	if err != nil {
		return result, fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return result, fmt.Errorf("stat archive: %w", err)
	}
	result.BytesCompressed = stat.Size()

	result.Algorithm = DetectAlgorithm(filePath)
	if result.Algorithm == AlgorithmNone {
		header := make([]byte, 4)
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				// Too short to carry a magic number, nothing to verify.
				result.Valid = true
				result.BytesDecompressed = result.BytesCompressed
				return result, nil
			}
			return result, fmt.Errorf("read header: %w", err)
		}
		result.Algorithm = DetectAlgorithmFromBytes(header)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return result, fmt.Errorf("seek: %w", err)
		}
	}

	if result.Algorithm == AlgorithmNone {
		result.Valid = true
		result.BytesDecompressed = result.BytesCompressed
		return result, nil
	}

	decomp, err := newDecompressor(f, result.Algorithm)
	if err != nil {
		result.Error = err
		return result, nil
	}
	defer func() { _ = decomp.Close() }()

	// Checksum validation happens inside the decoder during the copy.
	n, err := io.Copy(io.Discard, decomp)
	result.BytesDecompressed = n
	if err != nil {
		result.Error = fmt.Errorf("stream verification failed after %d bytes: %w", n, err)
		return result, nil
	}

	result.Valid = true
	return result, nil
}
