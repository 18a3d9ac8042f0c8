package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"walvault/internal/cleanup"
	errs "walvault/internal/errors"
	"walvault/internal/fs"
	"walvault/internal/logger"
)

// toolAvailable confirms the named tool resolves and answers --version
func toolAvailable(ctx context.Context, conn ConnConfig, name, purpose string, log logger.Logger) error {
	path := conn.ToolPath(name)
	if conn.BinDir == "" {
		if _, err := exec.LookPath(path); err != nil {
			return errs.ToolMissing(name, purpose)
		}
	} else {
		if _, err := fs.Stat(path); err != nil {
			return errs.ToolMissing(name, purpose)
		}
	}

	cmd := cleanup.SafeCommand(ctx, path, "--version")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errs.ToolFailed(name, err, strings.TrimSpace(string(out)))
	}
	log.Debug("Tool available", "tool", name, "version", strings.TrimSpace(string(out)))
	return nil
}

// toolOutput tails a tool's stderr for error reports, echoing every
// line at debug level.
type toolOutput struct {
	log  logger.Logger
	tool string
	tail []string
}

func (t *toolOutput) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		t.tail = append(t.tail, line)
		if len(t.tail) > stderrTailLines {
			t.tail = t.tail[1:]
		}
		t.log.Debug("Tool output", "tool", t.tool, "line", line)
	}
}

func (t *toolOutput) tailText() string {
	return strings.Join(t.tail, "\n")
}

// runTool starts a prepared command and waits it out, folding the
// stderr tail into any failure. The caller sets env and stdin before
// handing the command over.
func runTool(ctx context.Context, cmd *exec.Cmd, tool string, log logger.Logger) error {
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("attaching to %s: %w", tool, err)
	}
	if err := cmd.Start(); err != nil {
		return errs.ToolFailed(tool, err, "")
	}

	mon := &toolOutput{log: log, tool: tool}
	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.consume(stderr)
	}()

	waitErr := cleanup.WaitWithContext(ctx, cmd, log)
	<-done

	if waitErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.ToolFailed(tool, waitErr, mon.tailText())
	}
	return nil
}
