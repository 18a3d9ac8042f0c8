package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"walvault/internal/cleanup"
	errs "walvault/internal/errors"
	"walvault/internal/logger"
)

// PrereqReport sorts findings into what blocks a backup and what the
// operator should merely hear about.
type PrereqReport struct {
	Errors   []string
	Warnings []string
}

func (r *PrereqReport) OK() bool {
	return len(r.Errors) == 0
}

// prereqValues are the raw server settings the checks look at
type prereqValues struct {
	CanReplicate   bool
	WALLevel       string
	ArchiveMode    string
	ArchiveCommand string
	MaxWALSenders  int
}

// CheckPrerequisites interrogates the server about everything a
// backup run depends on. It wants a reachable server; use
// CheckAvailability first if the tools themselves are in doubt.
func CheckPrerequisites(ctx context.Context, conn ConnConfig, log logger.Logger) (*PrereqReport, error) {
	conn = conn.normalize()
	vals := prereqValues{}

	out, err := runPsql(ctx, conn, "SELECT rolreplication FROM pg_roles WHERE rolname = current_user")
	if err != nil {
		return nil, err
	}
	vals.CanReplicate = out == "t"

	if vals.WALLevel, err = runPsql(ctx, conn, "SHOW wal_level"); err != nil {
		return nil, err
	}
	if vals.ArchiveMode, err = runPsql(ctx, conn, "SHOW archive_mode"); err != nil {
		return nil, err
	}
	if vals.ArchiveCommand, err = runPsql(ctx, conn, "SHOW archive_command"); err != nil {
		return nil, err
	}
	out, err = runPsql(ctx, conn, "SHOW max_wal_senders")
	if err != nil {
		return nil, err
	}
	vals.MaxWALSenders, _ = strconv.Atoi(out)

	report := evaluatePrereqs(vals, conn.User)
	for _, w := range report.Warnings {
		log.Warn("Prerequisite check", "finding", w)
	}
	for _, e := range report.Errors {
		log.Error("Prerequisite check", "finding", e)
	}
	return report, nil
}

// evaluatePrereqs applies the rules to already-gathered settings
func evaluatePrereqs(vals prereqValues, user string) *PrereqReport {
	report := &PrereqReport{}

	if !vals.CanReplicate {
		report.Errors = append(report.Errors,
			fmt.Sprintf("role %q lacks REPLICATION; run: ALTER ROLE %s WITH REPLICATION", user, user))
	}

	switch vals.WALLevel {
	case "replica", "logical":
	default:
		report.Errors = append(report.Errors,
			fmt.Sprintf("wal_level is %q, need replica or logical for base backups", vals.WALLevel))
	}

	if vals.ArchiveMode != "on" && vals.ArchiveMode != "always" {
		report.Warnings = append(report.Warnings,
			"archive_mode is off; point-in-time recovery will only reach the end of each snapshot")
	} else if !strings.Contains(vals.ArchiveCommand, "walvault") {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("archive_command %q does not invoke walvault; segments are going somewhere else", vals.ArchiveCommand))
	}

	if vals.MaxWALSenders < 2 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("max_wal_senders is %d; streaming WAL during a backup needs at least 2", vals.MaxWALSenders))
	}

	return report
}

// runPsql executes one query and returns the trimmed single value
func runPsql(ctx context.Context, conn ConnConfig, query string) (string, error) {
	args := []string{
		"-h", conn.Host,
		"-p", fmt.Sprintf("%d", conn.Port),
		"-U", conn.User,
		"-d", conn.Database,
		"-t", "-A", "-X",
		"-c", query,
	}
	cmd := cleanup.SafeCommand(ctx, conn.ToolPath("psql"), args...)
	if conn.Password != "" {
		cmd.Env = append(cmd.Env, "PGPASSWORD="+conn.Password)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errs.ToolFailed("psql", err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}
