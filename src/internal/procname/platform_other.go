//go:build !windows

package procname

import "github.com/jongio/portwarden/src/internal/executor"

// PlatformLookup returns the process-table lookup.
func PlatformLookup(_ executor.Runner) Lookup {
	return ProcessLookup{}
}
