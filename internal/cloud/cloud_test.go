package cloud

import (
	"bytes"
	"context"
	"io"
	"testing"

	"walvault/internal/config"
	errs "walvault/internal/errors"
	"walvault/internal/logger"
)

func wantCode(t *testing.T, err error, code errs.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	if got := errs.GetCode(err); got != code {
		t.Fatalf("error code = %s, want %s (err: %v)", got, code, err)
	}
}

func TestNewBackendUnknownProvider(t *testing.T) {
	cfg := &config.Config{CloudProvider: "ftp"}
	_, err := NewBackend(context.Background(), cfg, logger.NewSilent())
	wantCode(t, err, errs.ErrCodeInvalidConfig)
}

func TestNewBackendBadBandwidth(t *testing.T) {
	cfg := &config.Config{CloudProvider: "s3", CloudBucket: "vault", CloudBandwidth: "warp9"}
	_, err := NewBackend(context.Background(), cfg, logger.NewSilent())
	wantCode(t, err, errs.ErrCodeInvalidConfig)
}

func TestProgressReader(t *testing.T) {
	payload := bytes.Repeat([]byte("p"), 10_000)

	var calls int
	var last int64
	r := &progressReader{
		r:     bytes.NewReader(payload),
		total: int64(len(payload)),
		fn: func(transferred, total int64) {
			calls++
			if transferred < last {
				t.Fatalf("progress went backwards: %d after %d", transferred, last)
			}
			if total != int64(len(payload)) {
				t.Fatalf("total = %d, want %d", total, len(payload))
			}
			last = transferred
		},
	}

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(out) != len(payload) {
		t.Fatalf("read %d bytes, want %d", len(out), len(payload))
	}
	if calls == 0 || last != int64(len(payload)) {
		t.Fatalf("progress ended at %d after %d calls, want %d", last, calls, len(payload))
	}
}

func TestCopyWithContext(t *testing.T) {
	payload := bytes.Repeat([]byte("c"), 300*1024)

	var dst bytes.Buffer
	n, err := copyWithContext(context.Background(), &dst, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("copyWithContext: %v", err)
	}
	if n != int64(len(payload)) || dst.Len() != len(payload) {
		t.Fatalf("copied %d bytes, want %d", n, len(payload))
	}
}

func TestCopyWithContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var dst bytes.Buffer
	_, err := copyWithContext(ctx, &dst, bytes.NewReader([]byte("data")))
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if dst.Len() != 0 {
		t.Fatalf("wrote %d bytes after cancellation", dst.Len())
	}
}
