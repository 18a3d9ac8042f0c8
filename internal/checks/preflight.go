// Package checks runs preflight verification before backup and
// recovery operations so failures happen before any state changes.
package checks

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dustin/go-humanize"

	"walvault/internal/catalog"
	"walvault/internal/cleanup"
	"walvault/internal/compression"
	"walvault/internal/config"
	"walvault/internal/engine"
	"walvault/internal/fs"
	"walvault/internal/logger"
	"walvault/internal/wal"
)

// PreflightCheck is a single verification result
type PreflightCheck struct {
	Name    string
	Status  CheckStatus
	Message string
	Details string
}

// CheckStatus represents the status of a preflight check
type CheckStatus int

const (
	StatusPassed CheckStatus = iota
	StatusWarning
	StatusFailed
	StatusSkipped
)

func (s CheckStatus) String() string {
	switch s {
	case StatusPassed:
		return "PASSED"
	case StatusWarning:
		return "WARNING"
	case StatusFailed:
		return "FAILED"
	case StatusSkipped:
		return "SKIPPED"
	default:
		return "UNKNOWN"
	}
}

func (s CheckStatus) Icon() string {
	switch s {
	case StatusPassed:
		return "✓"
	case StatusWarning:
		return "⚠"
	case StatusFailed:
		return "✗"
	case StatusSkipped:
		return "○"
	default:
		return "?"
	}
}

// PreflightResult aggregates all checks for one operation
type PreflightResult struct {
	Checks       []PreflightCheck
	AllPassed    bool
	HasWarnings  bool
	FailureCount int
	WarningCount int
	Storage      *StorageInfo
}

// StorageInfo describes the local destination filesystem
type StorageInfo struct {
	Path           string `json:"path"`
	AvailableBytes uint64 `json:"available_bytes"`
	TotalBytes     uint64 `json:"total_bytes"`
}

func (r *PreflightResult) add(check PreflightCheck) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusFailed:
		r.AllPassed = false
		r.FailureCount++
	case StatusWarning:
		r.HasWarnings = true
		r.WarningCount++
	}
}

// Checker performs preflight checks against the configured vault
type Checker struct {
	cfg *config.Config
	log logger.Logger
}

func NewChecker(cfg *config.Config, log logger.Logger) *Checker {
	return &Checker{cfg: cfg, log: log}
}

// ForBackup verifies everything a backup run depends on: tools,
// destination, archive store, catalog, disk headroom and the server's
// own settings. Nothing here mutates the vault.
func (c *Checker) ForBackup(ctx context.Context) (*PreflightResult, error) {
	result := &PreflightResult{AllPassed: true}

	tools := []string{"pg_basebackup", "psql"}
	if c.cfg.WALMethod == "stream" {
		tools = append(tools, "pg_receivewal")
	}
	result.add(c.checkTools(ctx, tools))

	storage := c.checkDestination(c.cfg.BaseDir())
	result.add(storage.check)
	result.Storage = storage.info

	result.add(c.checkArchiveStore())
	headroom := c.checkCatalogAndHeadroom(ctx, storage.info)
	result.Checks = append(result.Checks, headroom.catalogCheck)
	if headroom.catalogCheck.Status == StatusFailed {
		result.AllPassed = false
		result.FailureCount++
	}
	result.add(headroom.spaceCheck)

	result.add(c.checkServer(ctx))

	return result, nil
}

// ForRestore verifies recovery can begin: the control tool, the
// target's filesystem, and room for the extracted cluster.
func (c *Checker) ForRestore(ctx context.Context, targetDir string, estimatedBytes uint64) (*PreflightResult, error) {
	result := &PreflightResult{AllPassed: true}

	result.add(c.checkTools(ctx, []string{"pg_ctl"}))

	storage := c.checkDestination(targetDir)
	result.add(storage.check)
	result.Storage = storage.info

	if estimatedBytes > 0 && storage.info != nil {
		// extraction roughly triples the archive footprint
		needed := estimatedBytes * 3
		check := PreflightCheck{Name: "Restore Headroom"}
		if storage.info.AvailableBytes < needed {
			check.Status = StatusFailed
			check.Message = fmt.Sprintf("need ~%s, %s available",
				humanize.IBytes(needed), humanize.IBytes(storage.info.AvailableBytes))
		} else {
			check.Status = StatusPassed
			check.Message = fmt.Sprintf("~%s needed, %s available",
				humanize.IBytes(needed), humanize.IBytes(storage.info.AvailableBytes))
		}
		result.add(check)
	}

	result.add(c.checkArchiveStore())

	return result, nil
}

// checkTools verifies the engine binaries resolve and run
func (c *Checker) checkTools(ctx context.Context, tools []string) PreflightCheck {
	check := PreflightCheck{Name: "Engine Tools"}

	var found, missing, versions []string
	for _, tool := range tools {
		path := c.cfg.ToolPath(tool)
		if c.cfg.BinDir == "" {
			if _, err := exec.LookPath(path); err != nil {
				missing = append(missing, tool)
				continue
			}
		} else if _, err := fs.Stat(path); err != nil {
			missing = append(missing, tool)
			continue
		}
		found = append(found, tool)
		if v := toolVersion(ctx, path); v != "" {
			versions = append(versions, fmt.Sprintf("%s %s", tool, v))
		}
	}

	if len(missing) > 0 {
		check.Status = StatusFailed
		check.Message = fmt.Sprintf("missing: %s", strings.Join(missing, ", "))
		if c.cfg.BinDir != "" {
			check.Details = fmt.Sprintf("looked in %s", c.cfg.BinDir)
		} else {
			check.Details = "install the engine client tools or set --bin-dir"
		}
		return check
	}

	check.Status = StatusPassed
	check.Message = fmt.Sprintf("%s found", strings.Join(found, ", "))
	check.Details = strings.Join(versions, "; ")
	return check
}

type destinationResult struct {
	check PreflightCheck
	info  *StorageInfo
}

// checkDestination ensures the directory exists, is writable, and its
// filesystem is not already starved
func (c *Checker) checkDestination(dir string) destinationResult {
	check := PreflightCheck{Name: "Destination"}

	if err := fs.MkdirAll(dir, 0750); err != nil {
		check.Status = StatusFailed
		check.Message = "cannot create directory"
		check.Details = err.Error()
		return destinationResult{check: check}
	}
	if err := fs.CheckWriteAccess(dir); err != nil {
		check.Status = StatusFailed
		check.Message = "not writable"
		check.Details = err.Error()
		return destinationResult{check: check}
	}

	ds, err := CheckDiskSpace(dir)
	if err != nil {
		check.Status = StatusWarning
		check.Message = fmt.Sprintf("%s (usage unknown)", dir)
		check.Details = err.Error()
		return destinationResult{check: check}
	}

	info := &StorageInfo{Path: dir, AvailableBytes: ds.AvailableBytes, TotalBytes: ds.TotalBytes}
	switch {
	case ds.Critical:
		check.Status = StatusFailed
		check.Message = fmt.Sprintf("filesystem %.1f%% full", ds.UsedPercent)
		check.Details = fmt.Sprintf("%s available", humanize.IBytes(ds.AvailableBytes))
	case ds.Warning:
		check.Status = StatusWarning
		check.Message = fmt.Sprintf("%s (%s available, %.1f%% used)",
			dir, humanize.IBytes(ds.AvailableBytes), ds.UsedPercent)
	default:
		check.Status = StatusPassed
		check.Message = fmt.Sprintf("%s (%s available)", dir, humanize.IBytes(ds.AvailableBytes))
	}
	return destinationResult{check: check, info: info}
}

// checkArchiveStore reports the archive head without mutating anything
func (c *Checker) checkArchiveStore() PreflightCheck {
	check := PreflightCheck{Name: "WAL Archive"}

	dir := c.cfg.ArchiveDir()
	exists, err := fs.DirExists(dir)
	if err != nil {
		check.Status = StatusFailed
		check.Message = "cannot access archive directory"
		check.Details = err.Error()
		return check
	}
	if !exists {
		if c.cfg.WALMethod == "fetch" {
			check.Status = StatusFailed
			check.Message = "no archive and wal-method is fetch"
			check.Details = "set archive_command to 'walvault archive put %p' or use --wal-method stream"
		} else {
			check.Status = StatusWarning
			check.Message = "no segments archived yet"
			check.Details = "recovery past the snapshot end needs the archive"
		}
		return check
	}

	algo, aerr := compression.ParseAlgorithm(c.cfg.Compression)
	if aerr != nil {
		algo = compression.AlgorithmNone
	}
	store := wal.NewStore(dir, algo, c.cfg.CompressionLevel, c.log)
	head, err := store.Head()
	if err != nil {
		check.Status = StatusFailed
		check.Message = "archive manifest unreadable"
		check.Details = err.Error()
		return check
	}
	if head == wal.SegmentNone {
		if c.cfg.WALMethod == "fetch" {
			check.Status = StatusFailed
			check.Message = "archive is empty and wal-method is fetch"
			check.Details = "no segment has arrived; check archive_command on the server"
		} else {
			check.Status = StatusWarning
			check.Message = "archive is empty"
		}
		return check
	}

	check.Status = StatusPassed
	check.Message = fmt.Sprintf("head at segment %s", head)
	return check
}

type headroomResult struct {
	catalogCheck PreflightCheck
	spaceCheck   PreflightCheck
}

// checkCatalogAndHeadroom opens the ledger read-only style: counts for
// the report, last snapshot size for the space estimate
func (c *Checker) checkCatalogAndHeadroom(ctx context.Context, storage *StorageInfo) headroomResult {
	catCheck := PreflightCheck{Name: "Snapshot Catalog"}
	spaceCheck := PreflightCheck{Name: "Disk Headroom"}

	cat, err := catalog.NewSQLiteCatalog(c.cfg.CatalogPath)
	if err != nil {
		catCheck.Status = StatusFailed
		catCheck.Message = "cannot open catalog"
		catCheck.Details = err.Error()
		spaceCheck.Status = StatusSkipped
		spaceCheck.Message = "skipped (no catalog)"
		return headroomResult{catCheck, spaceCheck}
	}
	defer cat.Close()

	stats, err := cat.Stats(ctx)
	if err != nil {
		catCheck.Status = StatusFailed
		catCheck.Message = "cannot read catalog"
		catCheck.Details = err.Error()
		spaceCheck.Status = StatusSkipped
		spaceCheck.Message = "skipped"
		return headroomResult{catCheck, spaceCheck}
	}
	catCheck.Status = StatusPassed
	catCheck.Message = fmt.Sprintf("%d records (%d complete, %d retained)",
		stats.Total, stats.Complete, stats.Retained)

	var lastSize int64
	if latest, err := cat.Latest(ctx); err == nil {
		lastSize = latest.SizeBytes
	}
	estimated := EstimateSnapshotSize(lastSize, 0, c.cfg.Compression, c.cfg.CompressionLevel)
	if estimated == 0 || storage == nil {
		spaceCheck.Status = StatusSkipped
		spaceCheck.Message = "skipped (no history to estimate from)"
		return headroomResult{catCheck, spaceCheck}
	}

	needed := RequiredHeadroom(estimated)
	if storage.AvailableBytes < needed {
		spaceCheck.Status = StatusWarning
		spaceCheck.Message = fmt.Sprintf("~%s estimated, only %s free",
			humanize.IBytes(estimated), humanize.IBytes(storage.AvailableBytes))
		spaceCheck.Details = fmt.Sprintf("wants %s with retention overlap", humanize.IBytes(needed))
	} else {
		spaceCheck.Status = StatusPassed
		spaceCheck.Message = fmt.Sprintf("~%s estimated, %s free",
			humanize.IBytes(estimated), humanize.IBytes(storage.AvailableBytes))
	}
	return headroomResult{catCheck, spaceCheck}
}

// checkServer runs the engine-side prerequisite queries
func (c *Checker) checkServer(ctx context.Context) PreflightCheck {
	check := PreflightCheck{Name: "Server Settings"}

	report, err := engine.CheckPrerequisites(ctx, engine.ConnFromConfig(c.cfg), c.log)
	if err != nil {
		check.Status = StatusFailed
		check.Message = "cannot query server"
		check.Details = err.Error()
		return check
	}

	switch {
	case !report.OK():
		check.Status = StatusFailed
		check.Message = strings.Join(report.Errors, "; ")
		check.Details = strings.Join(report.Warnings, "; ")
	case len(report.Warnings) > 0:
		check.Status = StatusWarning
		check.Message = strings.Join(report.Warnings, "; ")
	default:
		check.Status = StatusPassed
		check.Message = "replication role, wal_level and archiving look right"
	}
	return check
}

// toolVersion runs "tool --version" and extracts the version token
func toolVersion(ctx context.Context, path string) string {
	cmd := cleanup.SafeCommand(ctx, path, "--version")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	for _, part := range strings.Fields(strings.TrimSpace(string(out))) {
		if len(part) > 0 && part[0] >= '0' && part[0] <= '9' {
			return part
		}
	}
	return ""
}
