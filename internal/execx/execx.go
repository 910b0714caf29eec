// Package execx runs external commands with bounded lifetimes. Every command
// gets its own process group so that the whole tree can be killed when a
// timeout or cancellation fires.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Result captures the observable outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// CommandError reports a command that started but did not exit cleanly.
type CommandError struct {
	Name   string
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Name, strings.Join(e.Args, " "), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Run executes name with args in dir, bounded by timeout when timeout > 0.
// The command runs in its own process group; on timeout or context
// cancellation the group is killed with SIGKILL and Result.TimedOut reports
// whether the deadline fired. ExitCode is -1 when the process was signalled.
func Run(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 3 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(err),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
		Duration: time.Since(start),
	}
	if err != nil {
		return res, &CommandError{Name: name, Args: args, Stdout: res.Stdout, Stderr: res.Stderr, Err: err}
	}
	return res, nil
}

// RunShell executes script through "sh -c" in dir.
func RunShell(ctx context.Context, dir string, timeout time.Duration, script string) (Result, error) {
	return Run(ctx, dir, timeout, "sh", "-c", script)
}

// Available reports whether an executable can be resolved on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ProcessState.ExitCode()
	}
	return -1
}
