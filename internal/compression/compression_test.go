package compression

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"walvault/internal/fs"
)

func TestDetectAlgorithm(t *testing.T) {
	tests := []struct {
		path     string
		expected Algorithm
	}{
		{"000000010000000000000042.gz", AlgorithmGzip},
		{"000000010000000000000042.zst", AlgorithmZstd},
		{"000000010000000000000042.zstd", AlgorithmZstd},
		{"base.tar.gz", AlgorithmGzip},
		{"/path/to/SEGMENT.GZ", AlgorithmGzip},
		{"/path/to/SEGMENT.ZST", AlgorithmZstd},
		{"000000010000000000000042", AlgorithmNone},
		{"base.tar", AlgorithmNone},
		{"", AlgorithmNone},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := DetectAlgorithm(tt.path)
			if got != tt.expected {
				t.Errorf("DetectAlgorithm(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestDetectAlgorithmFromBytes(t *testing.T) {
	tests := []struct {
		name     string
		header   []byte
		expected Algorithm
	}{
		{"gzip", []byte{0x1f, 0x8b, 0x08, 0x00}, AlgorithmGzip},
		{"zstd", []byte{0x28, 0xB5, 0x2F, 0xFD}, AlgorithmZstd},
		{"plain", []byte("WAL\x00"), AlgorithmNone},
		{"short", []byte{0x1f}, AlgorithmNone},
		{"empty", nil, AlgorithmNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectAlgorithmFromBytes(tt.header)
			if got != tt.expected {
				t.Errorf("DetectAlgorithmFromBytes = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestIsCompressed(t *testing.T) {
	if !IsCompressed("seg.gz") {
		t.Error("expected .gz to be compressed")
	}
	if !IsCompressed("seg.zst") {
		t.Error("expected .zst to be compressed")
	}
	if IsCompressed("seg") {
		t.Error("expected bare name to not be compressed")
	}
}

func TestStripExtension(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"000000010000000000000042.gz", "000000010000000000000042"},
		{"000000010000000000000042.zst", "000000010000000000000042"},
		{"000000010000000000000042.zstd", "000000010000000000000042"},
		{"000000010000000000000042", "000000010000000000000042"},
		{"/archive/seg.zst", "/archive/seg"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := StripExtension(tt.input)
			if got != tt.expected {
				t.Errorf("StripExtension(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFileExtension(t *testing.T) {
	if FileExtension(AlgorithmGzip) != ".gz" {
		t.Error("expected .gz for gzip")
	}
	if FileExtension(AlgorithmZstd) != ".zst" {
		t.Error("expected .zst for zstd")
	}
	if FileExtension(AlgorithmNone) != "" {
		t.Error("expected empty string for none")
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		input    string
		expected Algorithm
		wantErr  bool
	}{
		{"gzip", AlgorithmGzip, false},
		{"gz", AlgorithmGzip, false},
		{"zstd", AlgorithmZstd, false},
		{"zst", AlgorithmZstd, false},
		{"none", AlgorithmNone, false},
		{"", AlgorithmNone, false},
		{"  GZIP  ", AlgorithmGzip, false},
		{"lz4", AlgorithmNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseAlgorithm(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAlgorithm(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseAlgorithm(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func roundTrip(t *testing.T, algo Algorithm, level int, payload []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	comp, err := NewCompressor(&buf, algo, level)
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}
	if _, err := comp.Write(payload); err != nil {
		t.Fatalf("compress write: %v", err)
	}
	if err := comp.Close(); err != nil {
		t.Fatalf("compress close: %v", err)
	}

	decomp, err := newDecompressor(bytes.NewReader(buf.Bytes()), algo)
	if err != nil {
		t.Fatalf("newDecompressor: %v", err)
	}
	defer decomp.Close()

	out, err := io.ReadAll(decomp)
	if err != nil {
		t.Fatalf("decompress read: %v", err)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("wal segment payload 0123456789 ", 4096))

	for _, algo := range []Algorithm{AlgorithmNone, AlgorithmGzip, AlgorithmZstd} {
		t.Run(string(algo), func(t *testing.T) {
			got := roundTrip(t, algo, 3, payload)
			if !bytes.Equal(got, payload) {
				t.Errorf("round trip through %s corrupted data: got %d bytes, want %d",
					algo, len(got), len(payload))
			}
		})
	}
}

func TestDecompressorAutoDetect(t *testing.T) {
	payload := []byte("segment body for magic byte detection")

	var buf bytes.Buffer
	comp, err := NewCompressor(&buf, AlgorithmZstd, 3)
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}
	if _, err := comp.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := comp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// No file name hint: detection must come from magic bytes.
	decomp, err := NewDecompressorAuto(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewDecompressorAuto: %v", err)
	}
	defer decomp.Close()

	if decomp.Algorithm() != AlgorithmZstd {
		t.Errorf("detected %q, want zstd", decomp.Algorithm())
	}
	out, err := io.ReadAll(decomp)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Error("auto-detected decompression corrupted data")
	}
}

func TestDecompressorPassThrough(t *testing.T) {
	payload := []byte("plain uncompressed stream")

	decomp, err := NewDecompressorAuto(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("NewDecompressorAuto: %v", err)
	}
	defer decomp.Close()

	if decomp.Algorithm() != AlgorithmNone {
		t.Errorf("detected %q, want none", decomp.Algorithm())
	}
	out, err := io.ReadAll(decomp)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Error("pass-through altered data")
	}
}

func TestVerifyStream(t *testing.T) {
	fs.SetFS(fs.NewMemMapFs())
	defer fs.ResetFS()

	payload := []byte(strings.Repeat("verification payload ", 1024))

	var buf bytes.Buffer
	comp, err := NewCompressor(&buf, AlgorithmGzip, 6)
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}
	if _, err := comp.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := comp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := fs.WriteFile("/spool/seg.gz", buf.Bytes(), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := VerifyStream("/spool/seg.gz")
	if err != nil {
		t.Fatalf("VerifyStream: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid stream, got error: %v", result.Error)
	}
	if result.Algorithm != AlgorithmGzip {
		t.Errorf("algorithm = %q, want gzip", result.Algorithm)
	}
	if result.BytesDecompressed != int64(len(payload)) {
		t.Errorf("decompressed %d bytes, want %d", result.BytesDecompressed, len(payload))
	}
}

func TestVerifyStreamTruncated(t *testing.T) {
	fs.SetFS(fs.NewMemMapFs())
	defer fs.ResetFS()

	payload := []byte(strings.Repeat("truncation target ", 4096))

	var buf bytes.Buffer
	comp, err := NewCompressor(&buf, AlgorithmZstd, 3)
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}
	if _, err := comp.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := comp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Cut the stream in half to simulate a partial upload.
	cut := buf.Bytes()[:buf.Len()/2]
	if err := fs.WriteFile("/spool/seg.zst", cut, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := VerifyStream("/spool/seg.zst")
	if err != nil {
		t.Fatalf("VerifyStream: %v", err)
	}
	if result.Valid {
		t.Error("expected truncated stream to fail verification")
	}
	if result.Error == nil {
		t.Error("expected verification error to be recorded")
	}
}

func TestVerifyStreamUncompressed(t *testing.T) {
	fs.SetFS(fs.NewMemMapFs())
	defer fs.ResetFS()

	if err := fs.WriteFile("/spool/seg", []byte("raw segment"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := VerifyStream("/spool/seg")
	if err != nil {
		t.Fatalf("VerifyStream: %v", err)
	}
	if !result.Valid {
		t.Error("expected uncompressed file to verify trivially")
	}
	if result.Algorithm != AlgorithmNone {
		t.Errorf("algorithm = %q, want none", result.Algorithm)
	}
}
