// Package cmd - version command showing build and tool information
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

var versionFormat string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and engine tool information",
	Long: `Display the walvault version, build details, and the versions of the
engine tools found on this host. Useful for bug reports.

Examples:
  walvault version
  walvault version --format json
  walvault version --format short`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runVersion()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().StringVar(&versionFormat, "format", "table", "Output format (table, json, short)")
}

type versionInfo struct {
	Version     string            `json:"version"`
	BuildTime   string            `json:"build_time"`
	GitCommit   string            `json:"git_commit"`
	GoVersion   string            `json:"go_version"`
	OS          string            `json:"os"`
	Arch        string            `json:"arch"`
	EngineTools map[string]string `json:"engine_tools"`
}

// engineTools are the external tools walvault drives.
var engineTools = []string{
	"pg_basebackup",
	"pg_receivewal",
	"pg_ctl",
	"psql",
	"pg_dump",
	"pg_restore",
}

func runVersion() {
	info := collectVersionInfo()
	switch versionFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(info)
	case "short":
		fmt.Printf("walvault %s\n", info.Version)
	default:
		printVersionTable(info)
	}
}

func collectVersionInfo() versionInfo {
	info := versionInfo{
		Version:     cfg.Version,
		BuildTime:   cfg.BuildTime,
		GitCommit:   cfg.GitCommit,
		GoVersion:   runtime.Version(),
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		EngineTools: make(map[string]string),
	}
	for _, tool := range engineTools {
		if v := toolVersion(cfg.ToolPath(tool)); v != "" {
			info.EngineTools[tool] = v
		}
	}
	return info
}

// toolVersion runs <tool> --version and extracts the trailing version
// number, e.g. "pg_basebackup (PostgreSQL) 16.1" -> "16.1".
func toolVersion(path string) string {
	out, err := exec.Command(path, "--version").Output()
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(strings.Split(string(out), "\n")[0])
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

func printVersionTable(info versionInfo) {
	commit := info.GitCommit
	if len(commit) > 40 {
		commit = commit[:40]
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     walvault Version Info                      ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  %-20s %-40s ║\n", "Version:", info.Version)
	fmt.Printf("║  %-20s %-40s ║\n", "Build Time:", info.BuildTime)
	fmt.Printf("║  %-20s %-40s ║\n", "Git Commit:", commit)
	fmt.Println("╠═══════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  %-20s %-40s ║\n", "Go Version:", info.GoVersion)
	fmt.Printf("║  %-20s %-40s ║\n", "OS/Arch:", fmt.Sprintf("%s/%s", info.OS, info.Arch))
	fmt.Println("╠═══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  Engine Tools                                                  ║")
	fmt.Println("╟───────────────────────────────────────────────────────────────╢")
	if len(info.EngineTools) == 0 {
		fmt.Println("║    (none detected)                                            ║")
	} else {
		for _, tool := range engineTools {
			if v, ok := info.EngineTools[tool]; ok {
				fmt.Printf("║    %-18s %-41s ║\n", tool+":", v)
			}
		}
	}
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}
