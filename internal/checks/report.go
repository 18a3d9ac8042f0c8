package checks

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// FormatReport renders preflight results for the terminal
func FormatReport(result *PreflightResult, title string, verbose bool) string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%s\n", title))
	sb.WriteString(strings.Repeat("=", len(title)) + "\n\n")

	if result.Storage != nil {
		sb.WriteString(fmt.Sprintf("  Destination: %s (%s free of %s)\n\n",
			result.Storage.Path,
			humanize.IBytes(result.Storage.AvailableBytes),
			humanize.IBytes(result.Storage.TotalBytes)))
	}

	for _, check := range result.Checks {
		sb.WriteString(fmt.Sprintf("  %s %-20s %s\n", check.Status.Icon(), check.Name+":", check.Message))
		if verbose && check.Details != "" {
			sb.WriteString(fmt.Sprintf("      %s\n", check.Details))
		}
	}

	sb.WriteString("\n")
	switch {
	case result.AllPassed && result.HasWarnings:
		sb.WriteString(fmt.Sprintf("  Result: READY with %d warning(s)\n", result.WarningCount))
	case result.AllPassed:
		sb.WriteString("  Result: READY\n")
	default:
		sb.WriteString(fmt.Sprintf("  Result: NOT READY (%d check(s) failed)\n", result.FailureCount))
	}
	sb.WriteString("\n")

	return sb.String()
}

// FormatReportJSON renders preflight results for machine consumers
func FormatReportJSON(result *PreflightResult) ([]byte, error) {
	type checkJSON struct {
		Name    string `json:"name"`
		Status  string `json:"status"`
		Message string `json:"message"`
		Details string `json:"details,omitempty"`
	}
	type reportJSON struct {
		AllPassed    bool         `json:"all_passed"`
		HasWarnings  bool         `json:"has_warnings"`
		FailureCount int          `json:"failure_count"`
		WarningCount int          `json:"warning_count"`
		Storage      *StorageInfo `json:"storage,omitempty"`
		Checks       []checkJSON  `json:"checks"`
	}

	report := reportJSON{
		AllPassed:    result.AllPassed,
		HasWarnings:  result.HasWarnings,
		FailureCount: result.FailureCount,
		WarningCount: result.WarningCount,
		Storage:      result.Storage,
		Checks:       make([]checkJSON, len(result.Checks)),
	}
	for i, check := range result.Checks {
		report.Checks[i] = checkJSON{
			Name:    check.Name,
			Status:  check.Status.String(),
			Message: check.Message,
			Details: check.Details,
		}
	}
	return json.MarshalIndent(report, "", "  ")
}
