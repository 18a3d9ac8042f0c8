//go:build !windows
// +build !windows

package cleanup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"walvault/internal/logger"
)

// SafeCommand creates an exec.Cmd with process group setup so the whole
// child tree dies with the parent.
func SafeCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // new process group, killed as a unit
		Pgid:    0,
	}

	// Detach stdin so background runs never stall on a prompt
	cmd.Stdin = nil

	// psql opens /dev/tty for password prompts unless TERM=dumb
	cmd.Env = append(os.Environ(), "TERM=dumb")

	return cmd
}

// TrackedCommand is a command that is killed on handler shutdown if it is
// still running. Used for the long-lived engine children (pg_receivewal).
type TrackedCommand struct {
	*exec.Cmd
	log  logger.Logger
	name string
}

// NewTrackedCommand creates a tracked command
func NewTrackedCommand(ctx context.Context, log logger.Logger, name string, args ...string) *TrackedCommand {
	return &TrackedCommand{
		Cmd:  SafeCommand(ctx, name, args...),
		log:  log,
		name: name,
	}
}

// StartWithCleanup starts the command and registers cleanup with the handler
func (tc *TrackedCommand) StartWithCleanup(h *Handler) error {
	if err := tc.Cmd.Start(); err != nil {
		return err
	}

	pid := tc.Cmd.Process.Pid
	h.RegisterCleanup(fmt.Sprintf("kill-%s-%d", tc.name, pid), func(ctx context.Context) error {
		return tc.Kill()
	})

	return nil
}

// Kill terminates the command and its process group
func (tc *TrackedCommand) Kill() error {
	if tc.Cmd.Process == nil {
		return nil
	}

	pid := tc.Cmd.Process.Pid

	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		// Process already gone
		return nil
	}

	tc.log.Debug("Terminating process", "name", tc.name, "pid", pid)

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		tc.log.Debug("SIGTERM failed, trying SIGKILL", "error", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := tc.Cmd.Process.Wait()
		done <- err
	}()

	select {
	case <-time.After(3 * time.Second):
		tc.log.Debug("Process didn't stop gracefully, sending SIGKILL", "name", tc.name, "pid", pid)
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
			tc.log.Debug("SIGKILL failed", "error", err)
		}
		<-done
	case <-done:
	}

	return nil
}

// WaitWithContext waits for the command to complete, killing the process
// group when the context is canceled first.
func WaitWithContext(ctx context.Context, cmd *exec.Cmd, log logger.Logger) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}

	cmdDone := make(chan error, 1)
	go func() {
		cmdDone <- cmd.Wait()
	}()

	select {
	case err := <-cmdDone:
		return err

	case <-ctx.Done():
		log.Debug("Context cancelled, terminating process", "pid", cmd.Process.Pid)

		pgid, err := syscall.Getpgid(cmd.Process.Pid)
		if err == nil {
			syscall.Kill(-pgid, syscall.SIGTERM)

			select {
			case <-cmdDone:
			case <-time.After(2 * time.Second):
				syscall.Kill(-pgid, syscall.SIGKILL)
				<-cmdDone
			}
		} else {
			cmd.Process.Kill()
			<-cmdDone
		}

		return ctx.Err()
	}
}
