package cloud

import (
	"context"
	"testing"

	"walvault/internal/config"
	errs "walvault/internal/errors"
	"walvault/internal/logger"
)

func s3TestConfig() *config.Config {
	return &config.Config{
		CloudProvider:  "s3",
		CloudBucket:    "walvault-test",
		CloudRegion:    "us-east-1",
		CloudEndpoint:  "http://127.0.0.1:9000",
		CloudAccessKey: "test",
		CloudSecretKey: "test",
	}
}

func TestNewS3BackendRequiresBucket(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := s3TestConfig()
	cfg.CloudBucket = ""
	_, err := newS3Backend(context.Background(), cfg, logger.NewSilent(), 0)
	wantCode(t, err, errs.ErrCodeInvalidConfig)
}

func TestS3BackendKey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := s3TestConfig()
	cfg.CloudPrefix = "/vault/prod/"
	b, err := newS3Backend(context.Background(), cfg, logger.NewSilent(), 0)
	if err != nil {
		t.Fatalf("newS3Backend: %v", err)
	}
	defer b.Close()

	if b.Name() != "s3" {
		t.Fatalf("Name() = %q", b.Name())
	}
	if got := b.key("20260301T120000.000/base.tar"); got != "vault/prod/20260301T120000.000/base.tar" {
		t.Fatalf("key with prefix = %q", got)
	}

	cfg.CloudPrefix = ""
	bare, err := newS3Backend(context.Background(), cfg, logger.NewSilent(), 0)
	if err != nil {
		t.Fatalf("newS3Backend: %v", err)
	}
	defer bare.Close()

	if got := bare.key("base.tar"); got != "base.tar" {
		t.Fatalf("key without prefix = %q", got)
	}
}

func TestS3BackendThrottledConcurrency(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	b, err := newS3Backend(context.Background(), s3TestConfig(), logger.NewSilent(), 1_000_000)
	if err != nil {
		t.Fatalf("newS3Backend: %v", err)
	}
	defer b.Close()

	if b.uploader.Concurrency != 1 {
		t.Fatalf("Concurrency = %d with a rate cap, want 1", b.uploader.Concurrency)
	}
	if b.limit != 1_000_000 {
		t.Fatalf("limit = %d, want 1000000", b.limit)
	}
}
