package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorCodes(t *testing.T) {
	codes := []struct {
		code     ErrorCode
		category string
	}{
		{ErrCodeInvalidConfig, "C"},
		{ErrCodeInvalidKeep, "C"},
		{ErrCodeInvalidPath, "C"},
		{ErrCodeInvalidTarget, "C"},
		{ErrCodeInvalidSegment, "C"},
		{ErrCodeBackupInProgress, "L"},
		{ErrCodeLockHeld, "L"},
		{ErrCodeSegmentMismatch, "I"},
		{ErrCodeChainBroken, "I"},
		{ErrCodeInvalidTransition, "I"},
		{ErrCodeChecksumFail, "I"},
		{ErrCodeBackupNotFound, "F"},
		{ErrCodeNoBackupBefore, "F"},
		{ErrCodeSegmentNotFound, "F"},
		{ErrCodeToolFailed, "T"},
		{ErrCodeToolMissing, "T"},
		{ErrCodeEngineDown, "T"},
		{ErrCodeRetentionViolation, "R"},
		{ErrCodeDiskFull, "E"},
		{ErrCodeTimeout, "E"},
		{ErrCodeTargetNotEmpty, "S"},
		{ErrCodeArchivingNotSetUp, "S"},
		{ErrCodeRestoreIncomplete, "S"},
	}

	for _, tc := range codes {
		t.Run(string(tc.code), func(t *testing.T) {
			if !strings.HasPrefix(string(tc.code), "WALVAULT-") {
				t.Errorf("ErrorCode %s should start with WALVAULT-", tc.code)
			}
			if !strings.Contains(string(tc.code), tc.category) {
				t.Errorf("ErrorCode %s should contain category %s", tc.code, tc.category)
			}
		})
	}
}

func TestVaultError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *VaultError
		wantIn  []string
		wantOut []string
	}{
		{
			name: "minimal error",
			err: &VaultError{
				Code:    ErrCodeInvalidConfig,
				Message: "invalid config",
			},
			wantIn:  []string{"[WALVAULT-C001]", "invalid config"},
			wantOut: []string{"Details:", "To fix:"},
		},
		{
			name: "error with details",
			err: &VaultError{
				Code:    ErrCodeInvalidConfig,
				Message: "invalid config",
				Details: "keep count is zero",
			},
			wantIn:  []string{"[WALVAULT-C001]", "Details:", "keep count is zero"},
			wantOut: []string{"To fix:"},
		},
		{
			name: "error with remediation",
			err: &VaultError{
				Code:        ErrCodeInvalidConfig,
				Message:     "invalid config",
				Remediation: "set --keep to at least 1",
			},
			wantIn:  []string{"[WALVAULT-C001]", "To fix:", "set --keep to at least 1"},
			wantOut: []string{"Details:"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := tc.err.Error()
			for _, want := range tc.wantIn {
				if !strings.Contains(msg, want) {
					t.Errorf("Error() should contain %q, got %q", want, msg)
				}
			}
			for _, notWant := range tc.wantOut {
				if strings.Contains(msg, notWant) {
					t.Errorf("Error() should NOT contain %q, got %q", notWant, msg)
				}
			}
		})
	}
}

func TestVaultError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &VaultError{
		Code:  ErrCodeToolFailed,
		Cause: cause,
	}

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}

	errNoCause := &VaultError{Code: ErrCodeToolFailed}
	if errNoCause.Unwrap() != nil {
		t.Errorf("Unwrap() = %v, want nil", errNoCause.Unwrap())
	}
}

func TestVaultError_Is(t *testing.T) {
	err1 := &VaultError{Code: ErrCodeBackupInProgress}
	err2 := &VaultError{Code: ErrCodeBackupInProgress}
	err3 := &VaultError{Code: ErrCodeBackupNotFound}

	if !err1.Is(err2) {
		t.Error("Is() should return true for same error code")
	}

	if err1.Is(err3) {
		t.Error("Is() should return false for different error codes")
	}

	genericErr := errors.New("generic error")
	if err1.Is(genericErr) {
		t.Error("Is() should return false for non-VaultError")
	}
}

func TestBackupInProgress(t *testing.T) {
	err := BackupInProgress("/backups/.walvault.lock")

	if err.Code != ErrCodeBackupInProgress {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeBackupInProgress)
	}
	if err.Category != CategoryConcurrency {
		t.Errorf("Category = %s, want %s", err.Category, CategoryConcurrency)
	}
	if !strings.Contains(err.Details, ".walvault.lock") {
		t.Errorf("Details should contain lock path, got %s", err.Details)
	}
}

func TestSegmentMismatch(t *testing.T) {
	err := SegmentMismatch("000000000000002A", "abc123", "def456")

	if err.Code != ErrCodeSegmentMismatch {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeSegmentMismatch)
	}
	if err.Category != CategoryIntegrity {
		t.Errorf("Category = %s, want %s", err.Category, CategoryIntegrity)
	}
	if !strings.Contains(err.Details, "abc123") {
		t.Errorf("Details should contain archived checksum, got %s", err.Details)
	}
	if !strings.Contains(err.Details, "def456") {
		t.Errorf("Details should contain incoming checksum, got %s", err.Details)
	}
}

func TestChainBroken(t *testing.T) {
	err := ChainBroken("000000000000000C", "0000000000000019", []string{"0000000000000015"})

	if err.Code != ErrCodeChainBroken {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeChainBroken)
	}
	if !strings.Contains(err.Details, "0000000000000015") {
		t.Errorf("Details should name the missing segment, got %s", err.Details)
	}
}

func TestInvalidTransition(t *testing.T) {
	err := InvalidTransition("20250115T120000.000", "failed", "complete")

	if err.Code != ErrCodeInvalidTransition {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeInvalidTransition)
	}
	if !strings.Contains(err.Message, "failed") || !strings.Contains(err.Message, "complete") {
		t.Errorf("Message should name both states, got %s", err.Message)
	}
}

func TestNoBackupBeforeTarget(t *testing.T) {
	target := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	err := NoBackupBeforeTarget(target, "20250115T120000.000")

	if err.Code != ErrCodeNoBackupBefore {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeNoBackupBefore)
	}
	if err.Category != CategoryNotFound {
		t.Errorf("Category = %s, want %s", err.Category, CategoryNotFound)
	}
	if !strings.Contains(err.Message, "2025-01-01") {
		t.Errorf("Message should contain the target time, got %s", err.Message)
	}
}

func TestToolMissing(t *testing.T) {
	err := ToolMissing("pg_basebackup", "physical base backup")

	if err.Code != ErrCodeToolMissing {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeToolMissing)
	}
	if !strings.Contains(err.Message, "pg_basebackup") {
		t.Errorf("Message should contain 'pg_basebackup', got %s", err.Message)
	}
	if !strings.Contains(err.Remediation, "postgresql-client") {
		t.Errorf("Remediation should contain package name, got %s", err.Remediation)
	}
}

func TestRetentionViolation(t *testing.T) {
	err := RetentionViolation("20250115T120000.000")

	if err.Code != ErrCodeRetentionViolation {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeRetentionViolation)
	}
	if err.Category != CategoryRetention {
		t.Errorf("Category = %s, want %s", err.Category, CategoryRetention)
	}
}

func TestDiskFull(t *testing.T) {
	err := DiskFull("/backups", 1024*1024*1024, 512*1024*1024)

	if err.Code != ErrCodeDiskFull {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeDiskFull)
	}
	if !strings.Contains(err.Details, "/backups") {
		t.Errorf("Details should contain '/backups', got %s", err.Details)
	}
	if !strings.Contains(err.Details, "1024 MB") {
		t.Errorf("Details should contain required MB, got %s", err.Details)
	}
}

func TestTargetNotEmpty(t *testing.T) {
	err := TargetNotEmpty("/var/lib/postgresql/data")

	if err.Code != ErrCodeTargetNotEmpty {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeTargetNotEmpty)
	}
	if err.Category != CategoryState {
		t.Errorf("Category = %s, want %s", err.Category, CategoryState)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"Timeout", &VaultError{Code: ErrCodeTimeout}, true},
		{"EngineDown", &VaultError{Code: ErrCodeEngineDown}, true},
		{"LockHeld", &VaultError{Code: ErrCodeLockHeld}, true},
		{"BackupInProgress", &VaultError{Code: ErrCodeBackupInProgress}, false},
		{"SegmentMismatch", &VaultError{Code: ErrCodeSegmentMismatch}, false},
		{"GenericError", errors.New("generic error"), false},
		{"NilError", nil, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := IsRetryable(tc.err)
			if got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestGetCategory(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"Config", &VaultError{Category: CategoryConfig}, CategoryConfig},
		{"Concurrency", &VaultError{Category: CategoryConcurrency}, CategoryConcurrency},
		{"Integrity", &VaultError{Category: CategoryIntegrity}, CategoryIntegrity},
		{"GenericError", errors.New("generic error"), ""},
		{"NilError", nil, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := GetCategory(tc.err)
			if got != tc.want {
				t.Errorf("GetCategory(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("wrapper: %w", &VaultError{
		Code:    ErrCodeChainBroken,
		Message: "test error",
	})

	var ve *VaultError
	if !errors.As(wrapped, &ve) {
		t.Error("errors.As should find VaultError in wrapped error")
	}
	if ve.Code != ErrCodeChainBroken {
		t.Errorf("Code = %s, want %s", ve.Code, ErrCodeChainBroken)
	}
}

func TestChainedErrors(t *testing.T) {
	cause := errors.New("root cause")
	err := NewConfigError(ErrCodeInvalidConfig, "config error", "fix config").
		WithCause(cause).
		WithDetails("extra info")

	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Details != "extra info" {
		t.Errorf("Details = %s, want 'extra info'", err.Details)
	}

	unwrapped := errors.Unwrap(err)
	if unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
}
