// Package compression provides unified compression/decompression support for
// WAL segments and logical dump streams. Supports gzip (via parallel pgzip)
// and zstd with automatic format detection by file extension or magic bytes.
//
// Performance characteristics:
//   - gzip:  ~250 MB/s decompress, ~80 MB/s compress (parallel pgzip)
//   - zstd:  ~1.5 GB/s decompress, ~400 MB/s compress (level 3)
package compression

import (
	"bufio"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// Algorithm represents a compression algorithm
type Algorithm string

const (
	AlgorithmNone Algorithm = "none"
	AlgorithmGzip Algorithm = "gzip"
	AlgorithmZstd Algorithm = "zstd"
)

// Magic bytes for format detection
var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xB5, 0x2F, 0xFD}
)

// DetectAlgorithm determines the compression algorithm from a file path (extension-based).
func DetectAlgorithm(filePath string) Algorithm {
	lower := strings.ToLower(filePath)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		return AlgorithmGzip
	case strings.HasSuffix(lower, ".zst") || strings.HasSuffix(lower, ".zstd"):
		return AlgorithmZstd
	default:
		return AlgorithmNone
	}
}

// DetectAlgorithmFromReader peeks at the first 4 bytes to detect compression
// by magic bytes. The returned io.Reader replays the peeked bytes so no data
// is lost. Returns AlgorithmNone if the stream is not recognized.
func DetectAlgorithmFromReader(r io.Reader) (Algorithm, io.Reader) {
	br := bufio.NewReaderSize(r, 4)
	peeked, err := br.Peek(4)
	if err != nil || len(peeked) < 2 {
		return AlgorithmNone, br
	}
	return DetectAlgorithmFromBytes(peeked), br
}

// DetectAlgorithmFromBytes inspects a header for known magic bytes.
func DetectAlgorithmFromBytes(header []byte) Algorithm {
	if len(header) >= 2 && header[0] == magicGzip[0] && header[1] == magicGzip[1] {
		return AlgorithmGzip
	}
	if len(header) >= 4 &&
		header[0] == magicZstd[0] && header[1] == magicZstd[1] &&
		header[2] == magicZstd[2] && header[3] == magicZstd[3] {
		return AlgorithmZstd
	}
	return AlgorithmNone
}

// ParseAlgorithm converts a user-supplied string into an Algorithm.
// Accepts "none", "gzip", "gz", "zstd", "zst" (case-insensitive).
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return AlgorithmNone, nil
	case "gzip", "gz":
		return AlgorithmGzip, nil
	case "zstd", "zst":
		return AlgorithmZstd, nil
	default:
		return AlgorithmNone, fmt.Errorf("unknown compression algorithm: %q", s)
	}
}

// IsCompressed reports whether the file name carries a recognized
// compression extension.
func IsCompressed(filePath string) bool {
	return DetectAlgorithm(filePath) != AlgorithmNone
}

// FileExtension returns the standard file extension for an algorithm
func FileExtension(algo Algorithm) string {
	switch algo {
	case AlgorithmGzip:
		return ".gz"
	case AlgorithmZstd:
		return ".zst"
	default:
		return ""
	}
}

// StripExtension removes a recognized compression extension from a file name.
// "000000010000000000000042.zst" becomes "000000010000000000000042".
func StripExtension(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		return name[:len(name)-3]
	case strings.HasSuffix(lower, ".zstd"):
		return name[:len(name)-5]
	case strings.HasSuffix(lower, ".zst"):
		return name[:len(name)-4]
	default:
		return name
	}
}

// Decompressor wraps a reader with transparent decompression.
type Decompressor struct {
	Reader    io.Reader
	closer    io.Closer
	algorithm Algorithm
}

// Algorithm reports the detected algorithm of the wrapped stream.
func (d *Decompressor) Algorithm() Algorithm {
	return d.algorithm
}

// Read implements io.Reader, delegating to the decompression reader.
func (d *Decompressor) Read(p []byte) (int, error) {
	return d.Reader.Read(p)
}

// Close releases decompressor resources. Safe to call on plain streams.
func (d *Decompressor) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

// NewDecompressor creates a decompression reader based on the file path hint.
// If the extension is not recognized the stream passes through unchanged.
func NewDecompressor(reader io.Reader, filePath string) (*Decompressor, error) {
	return newDecompressor(reader, DetectAlgorithm(filePath))
}

// NewDecompressorAuto sniffs magic bytes instead of trusting the file name.
func NewDecompressorAuto(reader io.Reader) (*Decompressor, error) {
	algo, replay := DetectAlgorithmFromReader(reader)
	return newDecompressor(replay, algo)
}

func newDecompressor(reader io.Reader, algo Algorithm) (*Decompressor, error) {
	switch algo {
	case AlgorithmGzip:
		return newGzipDecompressor(reader)
	case AlgorithmZstd:
		return newZstdDecompressor(reader)
	default:
		return &Decompressor{Reader: reader, algorithm: AlgorithmNone}, nil
	}
}

func newGzipDecompressor(reader io.Reader) (*Decompressor, error) {
	workers := runtime.NumCPU()
	if workers > 16 {
		workers = 16
	}
	// 1MB blocks give good parallelism without excessive memory
	gz, err := pgzip.NewReaderN(reader, 1<<20, workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	return &Decompressor{
		Reader:    gz,
		closer:    gz,
		algorithm: AlgorithmGzip,
	}, nil
}

func newZstdDecompressor(reader io.Reader) (*Decompressor, error) {
	dec, err := zstd.NewReader(reader,
		zstd.WithDecoderConcurrency(0), // auto: one goroutine per core
		zstd.WithDecoderLowmem(false),
		zstd.WithDecoderMaxMemory(2<<30),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	return &Decompressor{
		Reader:    dec,
		closer:    dec.IOReadCloser(),
		algorithm: AlgorithmZstd,
	}, nil
}

// Compressor wraps a writer with transparent compression.
type Compressor struct {
	Writer    io.Writer
	closer    io.Closer
	algorithm Algorithm
}

// Write implements io.Writer, delegating to the underlying compression writer
func (c *Compressor) Write(p []byte) (int, error) {
	return c.Writer.Write(p)
}

// Close flushes and closes the compression writer
func (c *Compressor) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// NewCompressor creates a compression writer based on algorithm and level.
// Level semantics:
//   - gzip: 1 (fastest) to 9 (best), default 6
//   - zstd: 1 (fastest) to 22 (best), default 3 (recommended)
func NewCompressor(writer io.Writer, algo Algorithm, level int) (*Compressor, error) {
	switch algo {
	case AlgorithmGzip:
		return newGzipCompressor(writer, level)
	case AlgorithmZstd:
		return newZstdCompressor(writer, level)
	case AlgorithmNone:
		return &Compressor{Writer: writer, algorithm: AlgorithmNone}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algo)
	}
}

func newGzipCompressor(writer io.Writer, level int) (*Compressor, error) {
	if level < 1 || level > 9 {
		level = 6 // gzip default
	}
	gz, err := pgzip.NewWriterLevel(writer, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	// 1MB parallel blocks, matching the reader side
	if err := gz.SetConcurrency(1<<20, runtime.NumCPU()); err != nil {
		gz.Close()
		return nil, fmt.Errorf("failed to configure parallel gzip: %w", err)
	}
	return &Compressor{
		Writer:    gz,
		closer:    gz,
		algorithm: AlgorithmGzip,
	}, nil
}

func newZstdCompressor(writer io.Writer, level int) (*Compressor, error) {
	if level < 1 || level > 22 {
		level = 3 // zstd recommended default
	}
	encLevel := zstd.SpeedDefault
	switch {
	case level <= 2:
		encLevel = zstd.SpeedFastest
	case level <= 5:
		encLevel = zstd.SpeedDefault
	case level <= 9:
		encLevel = zstd.SpeedBetterCompression
	default:
		encLevel = zstd.SpeedBestCompression
	}

	enc, err := zstd.NewWriter(writer,
		zstd.WithEncoderLevel(encLevel),
		zstd.WithEncoderConcurrency(runtime.NumCPU()),
		zstd.WithWindowSize(4<<20), // 4MB window for streaming
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	return &Compressor{
		Writer:    enc,
		closer:    enc,
		algorithm: AlgorithmZstd,
	}, nil
}
