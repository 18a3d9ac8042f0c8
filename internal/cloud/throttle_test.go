package cloud

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestThrottledReaderLimits(t *testing.T) {
	// 64 KiB at 256 KiB/s needs roughly 250ms
	data := bytes.Repeat([]byte("x"), 64*1024)
	r := NewThrottledReader(context.Background(), bytes.NewReader(data), 256*1024)

	start := time.Now()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(out) != len(data) {
		t.Fatalf("read %d bytes, want %d", len(out), len(data))
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("finished in %v, cap not applied", elapsed)
	}
}

func TestThrottledReaderUnlimited(t *testing.T) {
	data := bytes.Repeat([]byte("y"), 32*1024)
	r := NewThrottledReader(context.Background(), bytes.NewReader(data), 0)

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatal("payload altered by pass-through reader")
	}
}

func TestThrottledReaderCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	data := bytes.Repeat([]byte("z"), 1024*1024)
	r := NewThrottledReader(ctx, bytes.NewReader(data), 1024) // 1 KiB/s

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := io.ReadAll(r)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestParseBandwidth(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"unlimited", 0, false},
		{"0", 0, false},
		{"10MB/s", 10_000_000, false},
		{"1.5MB/s", 1_500_000, false},
		{"1MiB/s", 1 << 20, false},
		{"500KB", 500_000, false},
		{"64KiB/s", 64 << 10, false},
		{"2GB/s", 2_000_000_000, false},
		{"1GiB", 1 << 30, false},
		{"750B/s", 750, false},
		{"12", 12_000_000, false},
		{"fast", 0, true},
		{"-5MB/s", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseBandwidth(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBandwidth(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseBandwidth(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormatBandwidth(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "unlimited"},
		{750, "750 B/s"},
		{2_000, "2.0 KB/s"},
		{1_500_000, "1.5 MB/s"},
		{3_000_000_000, "3.0 GB/s"},
	}
	for _, tt := range tests {
		if got := FormatBandwidth(tt.in); got != tt.want {
			t.Errorf("FormatBandwidth(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
