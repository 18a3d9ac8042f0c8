// Package exitcode maps errors onto process exit codes so scripts and
// schedulers can react without parsing messages.
package exitcode

import (
	"context"
	"errors"
	"strings"

	errs "walvault/internal/errors"
)

// Standard exit codes following BSD sysexits.h conventions
// See: https://man.freebsd.org/cgi/man.cgi?query=sysexits
const (
	// Success - operation completed successfully
	Success = 0

	// General - general error (fallback)
	General = 1

	// UsageError - command line usage error
	UsageError = 2

	// DataError - input data was incorrect
	DataError = 65

	// NoInput - input file did not exist or was not readable
	NoInput = 66

	// NoHost - host name unknown (for network operations)
	NoHost = 68

	// Unavailable - service unavailable (database unreachable)
	Unavailable = 69

	// Software - internal software error
	Software = 70

	// OSError - operating system error (file I/O, etc.)
	OSError = 71

	// OSFile - critical OS file missing
	OSFile = 72

	// CantCreate - can't create output file
	CantCreate = 73

	// IOError - error during I/O operation
	IOError = 74

	// TempFail - temporary failure, user can retry
	TempFail = 75

	// Protocol - remote error in protocol
	Protocol = 76

	// NoPerm - permission denied
	NoPerm = 77

	// Config - configuration error
	Config = 78

	// Timeout - operation timeout
	Timeout = 124

	// Cancelled - operation cancelled by user (Ctrl+C)
	Cancelled = 130
)

// FromError maps an error to an exit code. Typed vault errors map by
// code and category; anything else falls back to message patterns.
func FromError(err error) int {
	if err == nil {
		return Success
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}

	var verr *errs.VaultError
	if errors.As(err, &verr) {
		return fromVaultError(verr)
	}
	return fromMessage(err.Error())
}

// fromVaultError resolves specific codes first, then the category.
// BackupInProgress lands on TempFail so cron wrappers treat an overlap
// as "try again later" rather than a failure worth paging over.
func fromVaultError(e *errs.VaultError) int {
	switch e.Code {
	case errs.ErrCodeToolMissing:
		return OSFile
	case errs.ErrCodeEngineDown:
		return Unavailable
	case errs.ErrCodeToolFailed:
		return Software
	case errs.ErrCodeTargetNotEmpty:
		return CantCreate
	case errs.ErrCodeArchivingNotSetUp:
		return Config
	case errs.ErrCodeDiskFull:
		return IOError
	case errs.ErrCodeTimeout:
		return Timeout
	}

	switch e.Category {
	case errs.CategoryConfig:
		return Config
	case errs.CategoryConcurrency:
		return TempFail
	case errs.CategoryIntegrity:
		return DataError
	case errs.CategoryNotFound:
		return NoInput
	case errs.CategoryTool:
		return Unavailable
	case errs.CategoryRetention:
		return NoPerm
	case errs.CategoryEnvironment:
		return IOError
	}
	return General
}

// fromMessage classifies untyped errors by common message patterns.
func fromMessage(msg string) int {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "permission denied", "access denied", "authentication failed", "password authentication"):
		return NoPerm
	case containsAny(lower, "connection refused", "could not connect", "no such host", "unknown host"):
		return Unavailable
	case containsAny(lower, "no such file", "file not found", "does not exist"):
		return NoInput
	case containsAny(lower, "no space left", "disk full", "i/o error", "read-only file system"):
		return IOError
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		return Timeout
	case containsAny(lower, "context canceled", "operation canceled"):
		return Cancelled
	case containsAny(lower, "invalid config", "configuration error", "invalid schedule"):
		return Config
	case containsAny(lower, "corrupted", "truncated", "checksum"):
		return DataError
	}
	return General
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
