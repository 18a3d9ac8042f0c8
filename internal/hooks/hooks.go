// Package hooks runs operator scripts around a backup run: before the
// snapshot starts, after it succeeds, and when it fails. Typical uses
// are a CHECKPOINT before the copy, monitoring pings, and pausing
// replication consumers for the duration of the run.
package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	errs "walvault/internal/errors"
	"walvault/internal/logger"
)

// Hook is one script or command to run at a phase boundary.
type Hook struct {
	Name            string // for logging
	Command         string // executable path or shell line
	Args            []string
	Shell           bool              // run via sh -c, enabling pipes and redirects
	Timeout         time.Duration     // 0 uses the runner default
	Environment     map[string]string // extra variables for this hook only
	ContinueOnError bool              // overrides the runner setting
}

// Config lists the hooks per phase plus runner-wide settings.
type Config struct {
	PreBackup  []Hook // before the snapshot tool starts
	PostBackup []Hook // after the record is COMPLETE
	OnError    []Hook // after the record is FAILED

	ContinueOnError bool          // keep going when a hook fails
	Timeout         time.Duration // per-hook default, 5m when zero
	WorkDir         string        // working directory, cwd when empty
	Environment     map[string]string
}

// Context carries run details into the hook environment.
type Context struct {
	Phase        string // pre, post, error
	RecordID     string
	SnapshotPath string
	SizeBytes    int64
	WALStart     string
	WALEnd       string
	StartTime    time.Time
	Duration     time.Duration
	Error        string // failure message, error phase only
	Success      bool
}

// Result reports one hook invocation.
type Result struct {
	Hook     string
	Success  bool
	Output   string
	Error    string
	ExitCode int
	Duration time.Duration
}

// Runner executes configured hooks.
type Runner struct {
	cfg *Config
	log logger.Logger
}

func NewRunner(cfg *Config, log logger.Logger) *Runner {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir, _ = os.Getwd()
	}
	return &Runner{cfg: cfg, log: log}
}

// RunPre executes the pre-backup hooks. The first failure aborts
// unless the hook or the runner allows continuing.
func (r *Runner) RunPre(ctx context.Context, hctx *Context) error {
	hctx.Phase = "pre"
	return r.run(ctx, r.cfg.PreBackup, hctx)
}

// RunPost executes the post-backup hooks after a successful run.
func (r *Runner) RunPost(ctx context.Context, hctx *Context) error {
	hctx.Phase = "post"
	return r.run(ctx, r.cfg.PostBackup, hctx)
}

// RunOnError executes the error hooks after a failed run.
func (r *Runner) RunOnError(ctx context.Context, hctx *Context) error {
	hctx.Phase = "error"
	return r.run(ctx, r.cfg.OnError, hctx)
}

func (r *Runner) run(ctx context.Context, hooks []Hook, hctx *Context) error {
	if len(hooks) == 0 {
		return nil
	}
	r.log.Debug("Running hooks", "phase", hctx.Phase, "count", len(hooks))

	for i := range hooks {
		hook := &hooks[i]
		res := r.runOne(ctx, hook, hctx)
		if res.Success {
			r.log.Debug("Hook completed", "name", hook.Name, "duration", res.Duration)
			continue
		}

		r.log.Warn("Hook failed",
			"name", hook.Name,
			"phase", hctx.Phase,
			"error", res.Error,
			"output", res.Output)
		if hook.ContinueOnError || r.cfg.ContinueOnError {
			continue
		}
		return errs.ToolFailed(fmt.Sprintf("%s hook %s", hctx.Phase, hook.Name),
			errors.New(res.Error), res.Output)
	}
	return nil
}

func (r *Runner) runOne(ctx context.Context, hook *Hook, hctx *Context) *Result {
	res := &Result{Hook: hook.Name}
	start := time.Now()

	timeout := hook.Timeout
	if timeout == 0 {
		timeout = r.cfg.Timeout
	}
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if hook.Shell {
		line := expand(hook.Command, hctx)
		if len(hook.Args) > 0 {
			line += " " + strings.Join(hook.Args, " ")
		}
		cmd = exec.CommandContext(hookCtx, "sh", "-c", line)
	} else {
		args := make([]string, len(hook.Args))
		for i, a := range hook.Args {
			args[i] = expand(a, hctx)
		}
		cmd = exec.CommandContext(hookCtx, expand(hook.Command, hctx), args...)
	}

	cmd.Env = r.environment(hctx, hook.Environment)
	cmd.Dir = r.cfg.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Output = strings.TrimSpace(stdout.String())

	if err != nil {
		res.Error = err.Error()
		if stderr.Len() > 0 {
			res.Error += ": " + strings.TrimSpace(stderr.String())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res
	}
	res.Success = true
	return res
}

// environment builds the hook process environment: the parent's,
// the run context as WALVAULT_* variables, then configured extras.
func (r *Runner) environment(hctx *Context, extra map[string]string) []string {
	env := os.Environ()

	ctxEnv := map[string]string{
		"WALVAULT_PHASE":         hctx.Phase,
		"WALVAULT_RECORD_ID":     hctx.RecordID,
		"WALVAULT_SNAPSHOT_PATH": hctx.SnapshotPath,
		"WALVAULT_SNAPSHOT_SIZE": fmt.Sprintf("%d", hctx.SizeBytes),
		"WALVAULT_WAL_START":     hctx.WALStart,
		"WALVAULT_WAL_END":       hctx.WALEnd,
		"WALVAULT_START_TIME":    hctx.StartTime.Format(time.RFC3339),
		"WALVAULT_DURATION_SEC":  fmt.Sprintf("%.0f", hctx.Duration.Seconds()),
		"WALVAULT_ERROR":         hctx.Error,
		"WALVAULT_SUCCESS":       fmt.Sprintf("%t", hctx.Success),
	}
	for k, v := range ctxEnv {
		env = append(env, k+"="+v)
	}
	for k, v := range r.cfg.Environment {
		env = append(env, k+"="+v)
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// expand substitutes ${VAR} run-context placeholders, then the
// process environment.
func expand(s string, hctx *Context) string {
	repl := strings.NewReplacer(
		"${RECORD_ID}", hctx.RecordID,
		"${SNAPSHOT_PATH}", hctx.SnapshotPath,
		"${PHASE}", hctx.Phase,
		"${ERROR}", hctx.Error,
		"${WAL_START}", hctx.WALStart,
		"${WAL_END}", hctx.WALEnd,
	)
	return os.ExpandEnv(repl.Replace(s))
}

// LoadDir discovers hooks from a directory tree:
//
//	hooks/
//	  pre-backup/
//	    00-checkpoint.sh
//	    10-pause-consumers.sh
//	  post-backup/
//	    00-notify.sh
//	  on-error/
//	    00-page.sh
//
// Only executable files are picked up; within a phase they run in
// name order. A missing directory is not an error.
func (r *Runner) LoadDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	phases := map[string]*[]Hook{
		"pre-backup":  &r.cfg.PreBackup,
		"post-backup": &r.cfg.PostBackup,
		"on-error":    &r.cfg.OnError,
	}

	for phase, hooks := range phases {
		phaseDir := filepath.Join(dir, phase)
		entries, err := os.ReadDir(phaseDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("reading %s: %w", phaseDir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.Mode()&0111 == 0 {
				continue
			}
			*hooks = append(*hooks, Hook{
				Name:    entry.Name(),
				Command: filepath.Join(phaseDir, entry.Name()),
				Shell:   true,
			})
			r.log.Debug("Loaded hook", "phase", phase, "name", entry.Name())
		}
	}
	return nil
}
