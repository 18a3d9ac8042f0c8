package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	cfg := New()
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}

	// Check defaults
	if cfg.Host == "" {
		t.Error("expected non-empty host")
	}
	if cfg.Port == 0 {
		t.Error("expected non-zero port")
	}
	if cfg.Root == "" {
		t.Error("expected non-empty root")
	}
	if cfg.WALMethod != "fetch" && cfg.WALMethod != "stream" {
		t.Errorf("expected valid wal method, got %q", cfg.WALMethod)
	}
	if cfg.KeepCount < 1 {
		t.Errorf("expected keep count >= 1, got %d", cfg.KeepCount)
	}
}

func TestNewFromEnvironment(t *testing.T) {
	t.Setenv("WALVAULT_ROOT", "/srv/vault")
	t.Setenv("WALVAULT_KEEP", "3")
	t.Setenv("WALVAULT_WAL_METHOD", "stream")
	t.Setenv("WALVAULT_REPLAY_TIMEOUT", "45m")

	cfg := New()
	if cfg.Root != "/srv/vault" {
		t.Errorf("Root = %q, want /srv/vault", cfg.Root)
	}
	if cfg.KeepCount != 3 {
		t.Errorf("KeepCount = %d, want 3", cfg.KeepCount)
	}
	if cfg.WALMethod != "stream" {
		t.Errorf("WALMethod = %q, want stream", cfg.WALMethod)
	}
	if cfg.ReplayTimeout != 45*time.Minute {
		t.Errorf("ReplayTimeout = %v, want 45m", cfg.ReplayTimeout)
	}
	if cfg.CatalogPath != filepath.Join("/srv/vault", "catalog.db") {
		t.Errorf("CatalogPath = %q, want under root", cfg.CatalogPath)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{Root: "/srv/vault"}

	if got := cfg.BaseDir(); got != filepath.Join("/srv/vault", "base") {
		t.Errorf("BaseDir() = %q", got)
	}
	if got := cfg.ArchiveDir(); got != filepath.Join("/srv/vault", "wal_archive") {
		t.Errorf("ArchiveDir() = %q", got)
	}
	if got := cfg.LockPath(); got != filepath.Join("/srv/vault", ".walvault.lock") {
		t.Errorf("LockPath() = %q", got)
	}
}

func TestToolPath(t *testing.T) {
	cfg := &Config{}
	if got := cfg.ToolPath("pg_basebackup"); got != "pg_basebackup" {
		t.Errorf("ToolPath without BinDir = %q", got)
	}

	cfg.BinDir = "/usr/lib/postgresql/16/bin"
	want := filepath.Join("/usr/lib/postgresql/16/bin", "pg_basebackup")
	if got := cfg.ToolPath("pg_basebackup"); got != want {
		t.Errorf("ToolPath = %q, want %q", got, want)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Root:          "/srv/vault",
			WALMethod:     "fetch",
			KeepCount:     7,
			Compression:   "none",
			TargetAction:  "promote",
			CloudProvider: "s3",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"stream method", func(c *Config) { c.WALMethod = "stream" }, false},
		{"zstd compression", func(c *Config) { c.Compression = "zstd" }, false},
		{"empty root", func(c *Config) { c.Root = "" }, true},
		{"bad wal method", func(c *Config) { c.WALMethod = "copy" }, true},
		{"zero keep", func(c *Config) { c.KeepCount = 0 }, true},
		{"negative keep", func(c *Config) { c.KeepCount = -1 }, true},
		{"bad compression", func(c *Config) { c.Compression = "lz4" }, true},
		{"bad level", func(c *Config) { c.CompressionLevel = 12 }, true},
		{"bad target action", func(c *Config) { c.TargetAction = "reboot" }, true},
		{"bad provider", func(c *Config) { c.CloudProvider = "gcs" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "walvault.yaml")

	yml := `
root: /srv/vault
connection:
  host: db.internal
  port: 5433
backup:
  walMethod: stream
  keep: 14
recovery:
  replayTimeout: 1h30m
  targetAction: pause
`
	if err := os.WriteFile(path, []byte(yml), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{
		Root:      "/old",
		Host:      "localhost",
		Port:      5432,
		User:      "postgres",
		WALMethod: "fetch",
		KeepCount: 7,
	}

	if err := cfg.LoadFile(path, true); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Root != "/srv/vault" {
		t.Errorf("Root = %q", cfg.Root)
	}
	if cfg.Host != "db.internal" || cfg.Port != 5433 {
		t.Errorf("connection = %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.WALMethod != "stream" || cfg.KeepCount != 14 {
		t.Errorf("backup = %s keep %d", cfg.WALMethod, cfg.KeepCount)
	}
	if cfg.ReplayTimeout != 90*time.Minute {
		t.Errorf("ReplayTimeout = %v", cfg.ReplayTimeout)
	}
	if cfg.TargetAction != "pause" {
		t.Errorf("TargetAction = %q", cfg.TargetAction)
	}
	// Untouched fields keep their values
	if cfg.User != "postgres" {
		t.Errorf("User = %q, want postgres", cfg.User)
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg := &Config{Root: "/srv/vault"}

	// Implicit lookup tolerates a missing file
	if err := cfg.LoadFile("/nonexistent/walvault.yaml", false); err != nil {
		t.Errorf("implicit LoadFile should ignore missing file, got %v", err)
	}

	// Explicit --config does not
	if err := cfg.LoadFile("/nonexistent/walvault.yaml", true); err == nil {
		t.Error("explicit LoadFile should fail on missing file")
	}
}

func TestLoadFileBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "walvault.yaml")

	yml := "recovery:\n  replayTimeout: soon\n"
	if err := os.WriteFile(path, []byte(yml), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{}
	if err := cfg.LoadFile(path, true); err == nil {
		t.Error("expected error for unparsable duration")
	}
}

func TestSaveFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "walvault.yaml")

	cfg := &Config{
		Root:          "/srv/vault",
		CatalogPath:   "/srv/vault/catalog.db",
		Host:          "db.internal",
		Port:          5433,
		User:          "replicator",
		Database:      "postgres",
		WALMethod:     "stream",
		KeepCount:     14,
		Compression:   "zstd",
		ReplayTimeout: time.Hour,
		PollInterval:  2 * time.Second,
		TargetAction:  "promote",
		LogLevel:      "debug",
	}

	if err := cfg.SaveFile(path); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}

	loaded := &Config{}
	if err := loaded.LoadFile(path, true); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if loaded.Root != cfg.Root {
		t.Errorf("Root = %q", loaded.Root)
	}
	if loaded.KeepCount != cfg.KeepCount {
		t.Errorf("KeepCount = %d", loaded.KeepCount)
	}
	if loaded.ReplayTimeout != cfg.ReplayTimeout {
		t.Errorf("ReplayTimeout = %v", loaded.ReplayTimeout)
	}
	if loaded.Compression != "zstd" {
		t.Errorf("Compression = %q", loaded.Compression)
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Field: "keep", Value: "0", Message: "must be at least 1"}
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty error message")
	}
	for _, want := range []string{"keep", "0", "must be at least 1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q should contain %q", msg, want)
		}
	}
}
