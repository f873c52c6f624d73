//go:build windows

package procname

import "github.com/jongio/portwarden/src/internal/executor"

// PlatformLookup returns the tasklist/PowerShell lookup.
func PlatformLookup(runner executor.Runner) Lookup {
	return TasklistLookup{Runner: runner}
}
