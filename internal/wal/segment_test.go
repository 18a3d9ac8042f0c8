package wal

import (
	"testing"

	"walvault/internal/compression"
)

func TestSegmentIDString(t *testing.T) {
	tests := []struct {
		id       SegmentID
		expected string
	}{
		{1, "0000000000000001"},
		{0xA3, "00000000000000A3"},
		{0xFFFFFFFFFFFFFFFF, "FFFFFFFFFFFFFFFF"},
		{SegmentNone, "0000000000000000"},
	}

	for _, tt := range tests {
		if got := tt.id.String(); got != tt.expected {
			t.Errorf("SegmentID(%d).String() = %q, want %q", tt.id, got, tt.expected)
		}
	}
}

func TestParseSegmentID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected SegmentID
		wantErr  bool
	}{
		{"canonical", "0000000000000001", 1, false},
		{"hex value", "00000000000000A3", 0xA3, false},
		{"lowercase", "00000000000000a3", 0xA3, false},
		{"short form", "A3", 0xA3, false},
		{"gzip suffix", "00000000000000A3.gz", 0xA3, false},
		{"zstd suffix", "00000000000000A3.zst", 0xA3, false},
		{"full path", "/spool/wal/0000000000000042.zst", 0x42, false},
		{"zero reserved", "0000000000000000", 0, true},
		{"too long", "00000000000000000001", 0, true},
		{"not hex", "segment-online", 0, true},
		{"manifest file", "MANIFEST.json", 0, true},
		{"hidden temp", ".incoming-12345.tmp", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSegmentID(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseSegmentID(%q) expected error, got %s", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSegmentID(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseSegmentID(%q) = %s, want %s", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSegmentForLSN(t *testing.T) {
	tests := []struct {
		name     string
		lsn      string
		expected SegmentID
		wantErr  bool
	}{
		{"first segment", "0/2000028", 2, false},
		{"segment boundary", "0/3000000", 3, false},
		{"just below boundary", "0/2FFFFFF", 2, false},
		{"high word", "1/0", 256, false},
		{"mixed", "2/5000010", 517, false},
		{"no slash", "2000028", 0, true},
		{"empty low", "0/", 0, true},
		{"empty high", "/28", 0, true},
		{"not hex", "0/xyz", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SegmentForLSN(tt.lsn)
			if tt.wantErr {
				if err == nil {
					t.Errorf("SegmentForLSN(%q) expected error, got %s", tt.lsn, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("SegmentForLSN(%q) unexpected error: %v", tt.lsn, err)
			}
			if got != tt.expected {
				t.Errorf("SegmentForLSN(%q) = %s, want %s", tt.lsn, got, tt.expected)
			}
		})
	}
}

func TestSegmentFileName(t *testing.T) {
	if got := SegmentFileName(0x42, compression.AlgorithmNone); got != "0000000000000042" {
		t.Errorf("plain name = %q", got)
	}
	if got := SegmentFileName(0x42, compression.AlgorithmGzip); got != "0000000000000042.gz" {
		t.Errorf("gzip name = %q", got)
	}
	if got := SegmentFileName(0x42, compression.AlgorithmZstd); got != "0000000000000042.zst" {
		t.Errorf("zstd name = %q", got)
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, id := range []SegmentID{1, 0x10, 0xDEADBEEF, 1 << 62} {
		got, err := ParseSegmentID(id.String())
		if err != nil {
			t.Fatalf("ParseSegmentID(%s): %v", id, err)
		}
		if got != id {
			t.Errorf("round trip %s -> %s", id, got)
		}
	}
}

func TestIsHexString(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"0123456789ABCDEF", true},
		{"abcdef", true},
		{"", true},
		{"G1", false},
		{"00-11", false},
	}

	for _, tt := range tests {
		if got := isHexString(tt.input); got != tt.expected {
			t.Errorf("isHexString(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}
