package engine

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	errs "walvault/internal/errors"
	"walvault/internal/logger"
)

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func hasArgPair(args []string, flag, value string) bool {
	for i, a := range args {
		if a == flag && i+1 < len(args) && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestConnConfigDSN(t *testing.T) {
	conn := ConnConfig{Host: "db.internal", User: "vault"}
	dsn := conn.DSN()

	for _, want := range []string{"host=db.internal", "port=5432", "user=vault", "dbname=postgres", "connect_timeout=5"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN missing %q: %s", want, dsn)
		}
	}
	if strings.Contains(dsn, "password") {
		t.Errorf("DSN should omit empty password: %s", dsn)
	}

	conn.Password = "s3cret"
	conn.Port = 5433
	conn.Database = "app"
	dsn = conn.DSN()
	for _, want := range []string{"password=s3cret", "port=5433", "dbname=app"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN missing %q: %s", want, dsn)
		}
	}
}

func TestConnConfigToolPath(t *testing.T) {
	conn := ConnConfig{}
	if got := conn.ToolPath("pg_basebackup"); got != "pg_basebackup" {
		t.Errorf("expected bare name for PATH lookup, got %q", got)
	}

	conn.BinDir = "/opt/pg/bin"
	if got := conn.ToolPath("pg_basebackup"); got != filepath.Join("/opt/pg/bin", "pg_basebackup") {
		t.Errorf("expected joined path, got %q", got)
	}
}

func TestNewBaseBackupDefaults(t *testing.T) {
	b := NewBaseBackup(ConnConfig{Host: "localhost"}, BaseBackupOptions{}, logger.NewSilent())

	if b.opts.WALMethod != "stream" {
		t.Errorf("expected default WAL method 'stream', got %q", b.opts.WALMethod)
	}
	if b.conn.Port != 5432 {
		t.Errorf("expected default port 5432, got %d", b.conn.Port)
	}
}

func TestBuildArgs(t *testing.T) {
	b := NewBaseBackup(
		ConnConfig{Host: "localhost", Port: 5432, User: "vault"},
		BaseBackupOptions{WALMethod: "fetch"},
		logger.NewSilent(),
	)

	args := b.buildArgs("/backups/20260301T000000.000")

	if !hasArgPair(args, "-D", "/backups/20260301T000000.000") {
		t.Error("expected -D with destination")
	}
	if !hasArgPair(args, "-h", "localhost") {
		t.Error("expected -h localhost")
	}
	if !hasArgPair(args, "-U", "vault") {
		t.Error("expected -U vault")
	}
	if !hasFlag(args, "-Ft") {
		t.Error("expected tar format")
	}
	if !hasArgPair(args, "-X", "fetch") {
		t.Error("expected -X fetch")
	}
	if !hasArgPair(args, "-c", "fast") {
		t.Error("expected fast checkpoint")
	}
	if !hasFlag(args, "-P") || !hasFlag(args, "-v") {
		t.Error("expected progress and verbose flags")
	}
}

func TestBuildArgsCompression(t *testing.T) {
	cases := []struct {
		name string
		opts BaseBackupOptions
		want []string
	}{
		{"gzip default", BaseBackupOptions{Compression: "gzip"}, []string{"-z"}},
		{"gzip level", BaseBackupOptions{Compression: "gzip", CompressLevel: 6}, []string{"--compress", "gzip:6"}},
		{"zstd default", BaseBackupOptions{Compression: "zstd"}, []string{"--compress", "client-zstd:3"}},
		{"zstd level", BaseBackupOptions{Compression: "zstd", CompressLevel: 9}, []string{"--compress", "client-zstd:9"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBaseBackup(ConnConfig{Host: "h"}, tc.opts, logger.NewSilent())
			args := b.buildArgs("/dest")
			if len(tc.want) == 1 {
				if !hasFlag(args, tc.want[0]) {
					t.Errorf("expected %v in %v", tc.want, args)
				}
			} else if !hasArgPair(args, tc.want[0], tc.want[1]) {
				t.Errorf("expected %v in %v", tc.want, args)
			}
		})
	}

	b := NewBaseBackup(ConnConfig{Host: "h"}, BaseBackupOptions{}, logger.NewSilent())
	args := b.buildArgs("/dest")
	if hasFlag(args, "-z") || hasFlag(args, "--compress") {
		t.Errorf("expected no compression flags by default: %v", args)
	}
}

func TestBuildArgsMaxRate(t *testing.T) {
	b := NewBaseBackup(ConnConfig{Host: "h"}, BaseBackupOptions{MaxRate: "100M"}, logger.NewSilent())
	if !hasArgPair(b.buildArgs("/dest"), "-r", "100M") {
		t.Error("expected -r 100M")
	}
}

func TestParseProgressLine(t *testing.T) {
	done, total, pct, ok := parseProgressLine("  12345/67890 kB (18%), 0/1 tablespace")
	if !ok {
		t.Fatal("expected progress line to parse")
	}
	if done != 12345 || total != 67890 {
		t.Errorf("expected 12345/67890, got %d/%d", done, total)
	}
	if pct != 18 {
		t.Errorf("expected 18%%, got %f", pct)
	}

	for _, line := range []string{
		"",
		"pg_basebackup: starting background WAL receiver",
		"waiting for checkpoint",
	} {
		if _, _, _, ok := parseProgressLine(line); ok {
			t.Errorf("expected %q not to parse as progress", line)
		}
	}
}

func TestParseStartLSN(t *testing.T) {
	lsn, ok := parseStartLSN("pg_basebackup: write-ahead log start point: 0/2000028 on timeline 1")
	if !ok {
		t.Fatal("expected start point line to parse")
	}
	if lsn != "0/2000028" {
		t.Errorf("expected 0/2000028, got %q", lsn)
	}

	if _, ok := parseStartLSN("pg_basebackup: checkpoint completed"); ok {
		t.Error("expected non-matching line to miss")
	}
}

func TestHashBaseArchives(t *testing.T) {
	dir := t.TempDir()

	base := []byte("base tarball contents")
	if err := os.WriteFile(filepath.Join(dir, "base.tar.gz"), base, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pg_wal.tar"), []byte("wal tarball"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "backup_manifest"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	sum, err := HashBaseArchives(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("%x", sha256.Sum256(base))
	if sum != want {
		t.Errorf("expected digest of base archive only, got %q want %q", sum, want)
	}

	// WAL tarball changes must not move the checksum
	if err := os.WriteFile(filepath.Join(dir, "pg_wal.tar"), []byte("different"), 0644); err != nil {
		t.Fatal(err)
	}
	again, err := HashBaseArchives(dir)
	if err != nil {
		t.Fatal(err)
	}
	if again != sum {
		t.Error("expected checksum to ignore WAL tarball")
	}
}

func TestHashBaseArchivesMissing(t *testing.T) {
	if _, err := HashBaseArchives(t.TempDir()); err == nil {
		t.Error("expected error when no base archive present")
	}
}

func TestCheckAvailabilityMissingTool(t *testing.T) {
	// BinDir pointing at an empty directory cannot hold the tool
	b := NewBaseBackup(ConnConfig{Host: "h", BinDir: t.TempDir()}, BaseBackupOptions{}, logger.NewSilent())

	err := b.CheckAvailability(context.Background())
	if err == nil {
		t.Fatal("expected missing tool error")
	}
	if errs.GetCode(err) != errs.ErrCodeToolMissing {
		t.Errorf("expected tool missing code, got %v", errs.GetCode(err))
	}
}

func TestEvaluatePrereqs(t *testing.T) {
	good := prereqValues{
		CanReplicate:   true,
		WALLevel:       "replica",
		ArchiveMode:    "on",
		ArchiveCommand: "walvault archive put %p",
		MaxWALSenders:  10,
	}

	report := evaluatePrereqs(good, "vault")
	if !report.OK() {
		t.Fatalf("expected clean report, got errors %v", report.Errors)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", report.Warnings)
	}

	noRepl := good
	noRepl.CanReplicate = false
	report = evaluatePrereqs(noRepl, "vault")
	if report.OK() {
		t.Error("expected missing REPLICATION to be an error")
	}

	minimal := good
	minimal.WALLevel = "minimal"
	report = evaluatePrereqs(minimal, "vault")
	if report.OK() {
		t.Error("expected wal_level minimal to be an error")
	}

	logical := good
	logical.WALLevel = "logical"
	if report = evaluatePrereqs(logical, "vault"); !report.OK() {
		t.Errorf("expected wal_level logical to pass, got %v", report.Errors)
	}

	noArchive := good
	noArchive.ArchiveMode = "off"
	report = evaluatePrereqs(noArchive, "vault")
	if !report.OK() {
		t.Error("archive_mode off should only warn")
	}
	if len(report.Warnings) != 1 {
		t.Errorf("expected one warning, got %v", report.Warnings)
	}

	foreign := good
	foreign.ArchiveCommand = "rsync %p backup:/wal/%f"
	report = evaluatePrereqs(foreign, "vault")
	if len(report.Warnings) != 1 || !strings.Contains(report.Warnings[0], "somewhere else") {
		t.Errorf("expected foreign archive_command warning, got %v", report.Warnings)
	}

	fewSenders := good
	fewSenders.MaxWALSenders = 1
	report = evaluatePrereqs(fewSenders, "vault")
	if len(report.Warnings) != 1 {
		t.Errorf("expected max_wal_senders warning, got %v", report.Warnings)
	}
}
