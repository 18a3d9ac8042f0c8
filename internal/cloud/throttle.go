package cloud

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// ThrottledReader caps the read rate of the wrapped reader. Rate is
// accounted in 100ms windows so short bursts stay smooth. Not safe for
// concurrent readers.
type ThrottledReader struct {
	reader      io.Reader
	bytesPerSec int64
	windowRead  int64
	windowStart time.Time
	windowSize  time.Duration
	ctx         context.Context
}

// NewThrottledReader wraps reader with a bytesPerSec cap. A cap of 0
// reads straight through.
func NewThrottledReader(ctx context.Context, reader io.Reader, bytesPerSec int64) *ThrottledReader {
	return &ThrottledReader{
		reader:      reader,
		bytesPerSec: bytesPerSec,
		windowStart: time.Now(),
		windowSize:  100 * time.Millisecond,
		ctx:         ctx,
	}
}

func (t *ThrottledReader) Read(p []byte) (int, error) {
	if t.bytesPerSec <= 0 {
		return t.reader.Read(p)
	}

	now := time.Now()
	elapsed := now.Sub(t.windowStart)
	if elapsed >= t.windowSize {
		t.windowRead = 0
		t.windowStart = now
		elapsed = 0
	}

	quota := int64(float64(t.bytesPerSec) * t.windowSize.Seconds())
	remaining := quota - t.windowRead
	if remaining <= 0 {
		// Window exhausted; sleep it out and try again
		select {
		case <-t.ctx.Done():
			return 0, t.ctx.Err()
		case <-time.After(t.windowSize - elapsed):
		}
		return t.Read(p)
	}

	maxRead := len(p)
	if int64(maxRead) > remaining {
		maxRead = int(remaining)
	}

	n, err := t.reader.Read(p[:maxRead])
	t.windowRead += int64(n)
	return n, err
}

// ParseBandwidth turns a human rate ("10MB/s", "1.5MiB/s", "500KB")
// into bytes per second. Empty, "0" and "unlimited" mean no cap; a
// bare number is taken as MB/s.
func ParseBandwidth(s string) (int64, error) {
	if s == "" || s == "0" || s == "unlimited" {
		return 0, nil
	}

	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimSuffix(v, "/s")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(v, "gib"):
		multiplier = 1 << 30
		v = strings.TrimSuffix(v, "gib")
	case strings.HasSuffix(v, "gb"):
		multiplier = 1000 * 1000 * 1000
		v = strings.TrimSuffix(v, "gb")
	case strings.HasSuffix(v, "mib"):
		multiplier = 1 << 20
		v = strings.TrimSuffix(v, "mib")
	case strings.HasSuffix(v, "mb"):
		multiplier = 1000 * 1000
		v = strings.TrimSuffix(v, "mb")
	case strings.HasSuffix(v, "kib"):
		multiplier = 1 << 10
		v = strings.TrimSuffix(v, "kib")
	case strings.HasSuffix(v, "kb"):
		multiplier = 1000
		v = strings.TrimSuffix(v, "kb")
	case strings.HasSuffix(v, "b"):
		v = strings.TrimSuffix(v, "b")
	default:
		// Bare number: assume MB/s
		multiplier = 1000 * 1000
	}

	var value float64
	if _, err := fmt.Sscanf(v, "%f", &value); err != nil || value < 0 {
		return 0, fmt.Errorf("invalid bandwidth %q", s)
	}
	return int64(value * float64(multiplier)), nil
}

// FormatBandwidth renders bytes per second for humans.
func FormatBandwidth(bytesPerSec int64) string {
	if bytesPerSec <= 0 {
		return "unlimited"
	}

	const (
		kb = 1000
		mb = 1000 * kb
		gb = 1000 * mb
	)
	switch {
	case bytesPerSec >= gb:
		return fmt.Sprintf("%.1f GB/s", float64(bytesPerSec)/float64(gb))
	case bytesPerSec >= mb:
		return fmt.Sprintf("%.1f MB/s", float64(bytesPerSec)/float64(mb))
	case bytesPerSec >= kb:
		return fmt.Sprintf("%.1f KB/s", float64(bytesPerSec)/float64(kb))
	default:
		return fmt.Sprintf("%d B/s", bytesPerSec)
	}
}
