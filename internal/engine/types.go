// Package engine drives the cluster's external tooling: snapshots via
// pg_basebackup, instance lifecycle via pg_ctl, and replay observation
// over a SQL connection. Everything else in walvault talks to the
// engine through the interfaces here so tests can substitute fakes.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"walvault/internal/config"
)

// ConnConfig describes how to reach the engine, for both the external
// tools and the SQL monitor.
type ConnConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	BinDir   string // empty means PATH lookup
}

// ConnFromConfig maps the vault configuration onto a connection
func ConnFromConfig(cfg *config.Config) ConnConfig {
	return ConnConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Database: cfg.Database,
		BinDir:   cfg.BinDir,
	}
}

// normalize fills the blanks the way the engine tools would
func (c ConnConfig) normalize() ConnConfig {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.Database == "" {
		c.Database = "postgres"
	}
	return c
}

// DSN renders a keyword connection string for the SQL monitor
func (c ConnConfig) DSN() string {
	c = c.normalize()
	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("user=%s", c.User),
		fmt.Sprintf("dbname=%s", c.Database),
		"connect_timeout=5",
	}
	if c.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", c.Password))
	}
	return strings.Join(parts, " ")
}

// ToolPath resolves a tool name against BinDir
func (c ConnConfig) ToolPath(name string) string {
	if c.BinDir == "" {
		return name
	}
	return filepath.Join(c.BinDir, name)
}

// SnapshotResult describes a finished snapshot
type SnapshotResult struct {
	SizeBytes int64
	Checksum  string // SHA-256 of the base archive
	StartLSN  string // from the tool's verbose output, informational
	Duration  time.Duration
}

// SnapshotTool produces a consistent copy of the cluster into destDir
type SnapshotTool interface {
	Snapshot(ctx context.Context, destDir string) (*SnapshotResult, error)
}

// ReplayStatus is one observation of a recovering instance
type ReplayStatus struct {
	InRecovery     bool
	ReplayLSN      string
	LastReplayTime *time.Time // nil until the first transaction replays
	Paused         bool       // replay halted at a target with action=pause
}

// Cluster manages a local instance during recovery
type Cluster interface {
	Start(ctx context.Context, dataDir string) error
	Stop(ctx context.Context, dataDir string) error
	ReplayStatus(ctx context.Context) (*ReplayStatus, error)
}
