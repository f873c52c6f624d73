// Package executor runs OS commands with timeouts.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds commands that are run without an explicit deadline.
const DefaultTimeout = 30 * time.Second

// Runner executes a command and returns its standard output.
// Implementations other than OSRunner exist mainly for tests.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// OSRunner runs real processes.
type OSRunner struct {
	// Timeout is applied when the context has no deadline. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Output runs name with args and returns stdout.
// Exit failures are returned as *exec.ExitError wrapped with the command's stderr.
func (r OSRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		timeout := r.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return RunCommandWithOutput(ctx, name, args, "")
}

// RunCommandWithOutput runs a command and returns its stdout.
func RunCommandWithOutput(ctx context.Context, name string, args []string, dir string) ([]byte, error) {
	// #nosec G204 -- callers pass fixed tool names; arguments are numeric ids or validated addresses
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), wrapError(name, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// IsNotExecuted reports whether err means the command never ran to completion
// (missing binary, start failure, timeout), as opposed to exiting with a non-zero status.
func IsNotExecuted(err error) bool {
	if err == nil {
		return false
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return true
	}
	if exitErr.ProcessState == nil {
		return false
	}
	// A process killed by our own context deadline did exit, but not on its own terms.
	return !exitErr.Exited()
}

func wrapError(name string, err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return fmt.Errorf("%s failed: %w: %s", name, err, stderr)
}
