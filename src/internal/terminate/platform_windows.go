//go:build windows

package terminate

import (
	"github.com/sony/gobreaker"

	"github.com/jongio/portwarden/src/internal/executor"
)

// PlatformLadder returns the Windows ladder, elevated level included.
func PlatformLadder(runner executor.Runner, elevation *gobreaker.CircuitBreaker) []Strategy {
	return WindowsLadder(runner, elevation)
}

// PlatformChecker verifies with tasklist.
func PlatformChecker(runner executor.Runner) Checker {
	return TasklistChecker{Runner: runner}
}

// PlatformDropper returns nil; Windows ships no tool that deletes a single
// TCP connection entry.
func PlatformDropper(executor.Runner) Dropper {
	return nil
}
