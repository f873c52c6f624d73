package terminate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jongio/portwarden/src/internal/executor"
)

// errOSAPIFailed reports that the process handle could not be opened or used.
// It is not an exit status, so the driver moves on without verifying.
var errOSAPIFailed = errors.New("os api termination failed")

func command(runner executor.Runner, name string, args ...string) func(context.Context, int) error {
	return func(ctx context.Context, pid int) error {
		full := make([]string, 0, len(args)+1)
		full = append(full, args...)
		full = append(full, strconv.Itoa(pid))
		_, err := runner.Output(ctx, name, full...)
		return err
	}
}

// OSAPIStrategy wraps TryTerminateViaOSAPI.
func OSAPIStrategy() Strategy {
	return Strategy{
		Level: LevelOSAPI,
		Name:  "os api",
		Run: func(_ context.Context, pid int) error {
			if !TryTerminateViaOSAPI(pid) {
				return errOSAPIFailed
			}
			return nil
		},
	}
}

// NewElevationBreaker opens after threshold consecutive elevated failures
// (typically declined UAC prompts) and stays open for cooldown, so users are
// not re-prompted on every request.
func NewElevationBreaker(threshold uint32, cooldown time.Duration) *gobreaker.CircuitBreaker {
	if threshold == 0 {
		threshold = 2
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "elevated-termination",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
}

// guarded runs fn through breaker. An open breaker surfaces as
// gobreaker.ErrOpenState, which the driver treats as "did not run".
func guarded(breaker *gobreaker.CircuitBreaker, fn func(context.Context, int) error) func(context.Context, int) error {
	if breaker == nil {
		return fn
	}
	return func(ctx context.Context, pid int) error {
		_, err := breaker.Execute(func() (interface{}, error) {
			return nil, fn(ctx, pid)
		})
		return err
	}
}

// WindowsLadder is taskkill, taskkill /F, taskkill /F /T, taskkill through an
// elevated PowerShell, then TerminateProcess.
func WindowsLadder(runner executor.Runner, elevation *gobreaker.CircuitBreaker) []Strategy {
	elevated := func(ctx context.Context, pid int) error {
		script := fmt.Sprintf(
			"Start-Process -FilePath taskkill -ArgumentList '/F','/T','/PID','%d' -Verb RunAs -WindowStyle Hidden -Wait",
			pid)
		_, err := runner.Output(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
		return err
	}

	return []Strategy{
		{Level: LevelStandard, Name: "taskkill", Run: command(runner, "taskkill", "/PID")},
		{Level: LevelForced, Name: "taskkill /F", Run: command(runner, "taskkill", "/F", "/PID")},
		{Level: LevelTree, Name: "taskkill /F /T", Run: command(runner, "taskkill", "/F", "/T", "/PID")},
		{Level: LevelElevated, Name: "elevated taskkill", Run: guarded(elevation, elevated)},
		OSAPIStrategy(),
	}
}

// UnixLadder is SIGTERM, SIGKILL, SIGKILL to children then the process,
// then a direct kill(2). There is no elevated level.
func UnixLadder(runner executor.Runner) []Strategy {
	tree := func(ctx context.Context, pid int) error {
		// pkill exits 1 when there are no children; only the parent's kill decides.
		_, _ = runner.Output(ctx, "pkill", "-9", "-P", strconv.Itoa(pid))
		_, err := runner.Output(ctx, "kill", "-9", strconv.Itoa(pid))
		return err
	}

	return []Strategy{
		{Level: LevelStandard, Name: "kill", Run: command(runner, "kill")},
		{Level: LevelForced, Name: "kill -9", Run: command(runner, "kill", "-9")},
		{Level: LevelTree, Name: "pkill -9 -P", Run: tree},
		OSAPIStrategy(),
	}
}
