//go:build !windows

package terminate

import (
	"github.com/sony/gobreaker"

	"github.com/jongio/portwarden/src/internal/executor"
)

// PlatformLadder returns the signal ladder. The breaker is unused because
// there is no elevated level.
func PlatformLadder(runner executor.Runner, _ *gobreaker.CircuitBreaker) []Strategy {
	return UnixLadder(runner)
}

// PlatformChecker verifies against the process table.
func PlatformChecker(executor.Runner) Checker {
	return ProcessChecker{}
}

// PlatformDropper returns the ss-based dropper.
func PlatformDropper(runner executor.Runner) Dropper {
	return NewSSDropper(runner)
}
