// Package errors provides structured error types for walvault
// with error codes, categories, and remediation guidance
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error codes for walvault
// Format: WALVAULT-<CATEGORY><NUMBER>
// Categories: C=Config, L=Locking, I=Integrity, F=NotFound, T=Tool, R=Retention, E=Environment, S=State
const (
	// Configuration errors (user fix)
	ErrCodeInvalidConfig  ErrorCode = "WALVAULT-C001"
	ErrCodeInvalidKeep    ErrorCode = "WALVAULT-C002"
	ErrCodeInvalidPath    ErrorCode = "WALVAULT-C003"
	ErrCodeInvalidTarget  ErrorCode = "WALVAULT-C004"
	ErrCodeInvalidSegment ErrorCode = "WALVAULT-C005"

	// Concurrency errors (wait or investigate the holder)
	ErrCodeBackupInProgress ErrorCode = "WALVAULT-L001"
	ErrCodeLockHeld         ErrorCode = "WALVAULT-L002"

	// Integrity errors (investigate before retrying)
	ErrCodeSegmentMismatch   ErrorCode = "WALVAULT-I001"
	ErrCodeChainBroken       ErrorCode = "WALVAULT-I002"
	ErrCodeInvalidTransition ErrorCode = "WALVAULT-I003"
	ErrCodeChecksumFail      ErrorCode = "WALVAULT-I004"
	ErrCodeDuplicateRecord   ErrorCode = "WALVAULT-I005"

	// Not-found errors
	ErrCodeBackupNotFound  ErrorCode = "WALVAULT-F001"
	ErrCodeNoBackupBefore  ErrorCode = "WALVAULT-F002"
	ErrCodeSegmentNotFound ErrorCode = "WALVAULT-F003"

	// External tool errors
	ErrCodeToolFailed  ErrorCode = "WALVAULT-T001"
	ErrCodeToolMissing ErrorCode = "WALVAULT-T002"
	ErrCodeEngineDown  ErrorCode = "WALVAULT-T003"

	// Retention errors
	ErrCodeRetentionViolation ErrorCode = "WALVAULT-R001"

	// Environment errors (infrastructure fix)
	ErrCodeDiskFull ErrorCode = "WALVAULT-E001"
	ErrCodeTimeout  ErrorCode = "WALVAULT-E002"

	// State errors (precondition not met)
	ErrCodeTargetNotEmpty    ErrorCode = "WALVAULT-S001"
	ErrCodeArchivingNotSetUp ErrorCode = "WALVAULT-S002"
	ErrCodeRestoreIncomplete ErrorCode = "WALVAULT-S003"
)

// Category represents error categories
type Category string

const (
	CategoryConfig      Category = "configuration"
	CategoryConcurrency Category = "concurrency"
	CategoryIntegrity   Category = "integrity"
	CategoryNotFound    Category = "not-found"
	CategoryTool        Category = "tool"
	CategoryRetention   Category = "retention"
	CategoryEnvironment Category = "environment"
	CategoryState       Category = "state"
)

// VaultError is a structured error with code, category, and remediation
type VaultError struct {
	Code        ErrorCode
	Category    Category
	Message     string
	Details     string
	Remediation string
	Cause       error
}

// Error implements error interface
func (e *VaultError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += fmt.Sprintf("\n\nDetails:\n  %s", e.Details)
	}
	if e.Remediation != "" {
		msg += fmt.Sprintf("\n\nTo fix:\n  %s", e.Remediation)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *VaultError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for error comparison
func (e *VaultError) Is(target error) bool {
	if t, ok := target.(*VaultError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetails adds details to an error
func (e *VaultError) WithDetails(details string) *VaultError {
	e.Details = details
	return e
}

// WithCause adds an underlying cause
func (e *VaultError) WithCause(cause error) *VaultError {
	e.Cause = cause
	return e
}

// NewConfigError creates a configuration error
func NewConfigError(code ErrorCode, message string, remediation string) *VaultError {
	return &VaultError{
		Code:        code,
		Category:    CategoryConfig,
		Message:     message,
		Remediation: remediation,
	}
}

// NewIntegrityError creates an integrity error
func NewIntegrityError(code ErrorCode, message string) *VaultError {
	return &VaultError{
		Code:     code,
		Category: CategoryIntegrity,
		Message:  message,
	}
}

// NewStateError creates a precondition error
func NewStateError(code ErrorCode, message string, remediation string) *VaultError {
	return &VaultError{
		Code:        code,
		Category:    CategoryState,
		Message:     message,
		Remediation: remediation,
	}
}

// Common error constructors for frequently used errors

// BackupInProgress creates a writer-lock conflict error
func BackupInProgress(lockPath string) *VaultError {
	return &VaultError{
		Code:     ErrCodeBackupInProgress,
		Category: CategoryConcurrency,
		Message:  "Another backup is already running",
		Details:  fmt.Sprintf("Lock file: %s", lockPath),
		Remediation: `Only one backup may write to the catalog at a time.

To fix:
  1. Wait for the running backup to finish:
     walvault catalog list --status running

  2. If the holder died without releasing the lock, remove the
     lock file and re-run. The next run marks the interrupted
     record FAILED automatically.`,
	}
}

// SegmentMismatch creates an archive idempotence violation error
func SegmentMismatch(segment string, expected, actual string) *VaultError {
	return &VaultError{
		Code:     ErrCodeSegmentMismatch,
		Category: CategoryIntegrity,
		Message:  fmt.Sprintf("Segment %s re-archived with different content", segment),
		Details: fmt.Sprintf(
			"Segment: %s\nArchived checksum: %s\nIncoming checksum: %s",
			segment, expected, actual,
		),
		Remediation: `The archive already holds this segment with different bytes.
This usually means two clusters share one archive directory, or the
source produced a divergent segment.

To fix:
  1. Verify archive_command points at the archive for this cluster only.

  2. Compare the archived segment with the incoming file before
     taking any manual action. Never overwrite the archived copy.`,
	}
}

// ChainBroken creates a WAL contiguity error
func ChainBroken(start, end string, missing []string) *VaultError {
	return &VaultError{
		Code:     ErrCodeChainBroken,
		Category: CategoryIntegrity,
		Message:  "WAL chain has gaps in the required range",
		Details: fmt.Sprintf(
			"Required range: %s..%s\nMissing segments: %v",
			start, end, missing,
		),
		Remediation: `Recovery needs every segment in the range to replay.

To fix:
  1. Check whether the missing segments exist off-site:
     walvault sync --list

  2. If the segments are gone, recover to an earlier backup whose
     chain is complete:
     walvault catalog list`,
	}
}

// InvalidTransition creates a catalog state machine error
func InvalidTransition(id, from, to string) *VaultError {
	return &VaultError{
		Code:     ErrCodeInvalidTransition,
		Category: CategoryIntegrity,
		Message:  fmt.Sprintf("Backup %s cannot move from %s to %s", id, from, to),
		Details:  "Allowed transitions: pending->running, running->complete, running->failed",
	}
}

// BackupNotFound creates a backup not found error
func BackupNotFound(identifier string) *VaultError {
	return &VaultError{
		Code:     ErrCodeBackupNotFound,
		Category: CategoryNotFound,
		Message:  fmt.Sprintf("Backup not found: %s", identifier),
		Remediation: `To fix:
  1. List available backups:
     walvault catalog list

  2. Only COMPLETE backups are restorable; check the status column.`,
	}
}

// NoBackupBeforeTarget creates a timestamp selection error
func NoBackupBeforeTarget(target time.Time, oldest string) *VaultError {
	return &VaultError{
		Code:     ErrCodeNoBackupBefore,
		Category: CategoryNotFound,
		Message:  fmt.Sprintf("No complete backup exists at or before %s", target.UTC().Format(time.RFC3339)),
		Details:  fmt.Sprintf("Oldest complete backup: %s", oldest),
		Remediation: `Point-in-time recovery replays forward from a base backup; the
requested time predates every base available.

To fix:
  1. Pick a time at or after the oldest complete backup:
     walvault catalog list

  2. Or restore the oldest backup as-is with --target latest.`,
	}
}

// SegmentNotFound creates an archive lookup error
func SegmentNotFound(segment string) *VaultError {
	return &VaultError{
		Code:     ErrCodeSegmentNotFound,
		Category: CategoryNotFound,
		Message:  fmt.Sprintf("Segment %s is not in the archive", segment),
		Remediation: `To fix:
  1. Check the archive contents:
     walvault archive status

  2. If the segment was pruned, recover from a newer backup whose
     WAL range starts after it.`,
	}
}

// ToolFailed creates an external tool failure error
func ToolFailed(tool string, cause error, stderrTail string) *VaultError {
	return &VaultError{
		Code:     ErrCodeToolFailed,
		Category: CategoryTool,
		Message:  fmt.Sprintf("%s exited with an error", tool),
		Details:  stderrTail,
		Cause:    cause,
	}
}

// ToolMissing creates a missing tool error
func ToolMissing(tool string, purpose string) *VaultError {
	return &VaultError{
		Code:     ErrCodeToolMissing,
		Category: CategoryTool,
		Message:  fmt.Sprintf("Required tool not found: %s", tool),
		Details:  fmt.Sprintf("Purpose: %s", purpose),
		Remediation: fmt.Sprintf(`To fix:
  1. Install the PostgreSQL client tools:

     Ubuntu/Debian:
       sudo apt install postgresql-client

     RHEL/CentOS:
       sudo yum install postgresql

     macOS:
       brew install libpq

  2. Or point WALVAULT_BIN_DIR at the directory holding %s.`, tool),
	}
}

// EngineDown creates an engine-exited error
func EngineDown(phase string, detail string) *VaultError {
	return &VaultError{
		Code:     ErrCodeEngineDown,
		Category: CategoryTool,
		Message:  fmt.Sprintf("Engine exited during %s", phase),
		Details:  detail,
		Remediation: `To fix:
  1. Read startup.log inside the target data directory; the last
     lines name the record or segment that stopped replay.

  2. If a segment is corrupt, re-archive it from the source, or
     recover to a point before the damage.`,
	}
}

// RetentionViolation creates a retained-backup protection error
func RetentionViolation(id string) *VaultError {
	return &VaultError{
		Code:     ErrCodeRetentionViolation,
		Category: CategoryRetention,
		Message:  fmt.Sprintf("Backup %s is retained and cannot be pruned", id),
		Remediation: `Retained backups are protected by the keep policy.

To fix:
  1. Lower the keep count on the next backup run:
     walvault backup --keep <n>

  2. Retention re-marks records on every run; the record prunes
     once it falls outside the keep window.`,
	}
}

// DiskFull creates a disk full error
func DiskFull(path string, requiredBytes, availableBytes uint64) *VaultError {
	return &VaultError{
		Code:     ErrCodeDiskFull,
		Category: CategoryEnvironment,
		Message:  "Insufficient disk space",
		Details: fmt.Sprintf(
			"Path: %s\nRequired: %d MB\nAvailable: %d MB",
			path, requiredBytes/(1024*1024), availableBytes/(1024*1024),
		),
		Remediation: `To fix:
  1. Prune backups outside the keep window:
     walvault backup --keep <n>

  2. Or move the backup root to a larger volume and update
     WALVAULT_ROOT.`,
	}
}

// Timeout creates an operation deadline error
func Timeout(operation string, limit time.Duration) *VaultError {
	return &VaultError{
		Code:     ErrCodeTimeout,
		Category: CategoryEnvironment,
		Message:  fmt.Sprintf("%s did not finish within %s", operation, limit),
		Remediation: `To fix:
  1. Raise the ceiling with --replay-timeout (0 waits forever).

  2. Check the engine log for replay progress before retrying.`,
	}
}

// TargetNotEmpty creates a data directory protection error
func TargetNotEmpty(dir string) *VaultError {
	return &VaultError{
		Code:     ErrCodeTargetNotEmpty,
		Category: CategoryState,
		Message:  fmt.Sprintf("Target data directory is not empty: %s", dir),
		Remediation: `Restoring over live engine state destroys it.

To fix:
  1. Stop the engine and move the old data directory aside.

  2. Or pass --force to overwrite it deliberately.`,
	}
}

// ArchivingNotConfigured creates a fresh-archive precondition error
func ArchivingNotConfigured(archiveDir string) *VaultError {
	return &VaultError{
		Code:     ErrCodeArchivingNotSetUp,
		Category: CategoryState,
		Message:  "WAL archive is empty; fetch backups need continuous archiving",
		Details:  fmt.Sprintf("Archive: %s", archiveDir),
		Remediation: `A fetch-mode backup defers to archived WAL, so an empty archive
would leave the backup without a defined WAL start.

To fix:
  1. Point the engine's archive_command at the vault:
     archive_command = 'walvault archive put %p'

  2. Or run the first backup with --wal-method stream, which seeds
     the archive itself.`,
	}
}

// GetCategory returns the error category if available
func GetCategory(err error) Category {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Category
	}
	return ""
}

// GetCode returns the error code if available
func GetCode(err error) ErrorCode {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// IsCategory reports whether err carries the given category
func IsCategory(err error, c Category) bool {
	return GetCategory(err) == c
}

// IsRetryable returns true if the error is transient and can be retried
func IsRetryable(err error) bool {
	var ve *VaultError
	if errors.As(err, &ve) {
		switch ve.Code {
		case ErrCodeTimeout, ErrCodeEngineDown, ErrCodeLockHeld:
			return true
		}
	}
	return false
}
