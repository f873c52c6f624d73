package procname

import (
	"context"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessLookup reads names and paths from the process table via gopsutil.
type ProcessLookup struct{}

// Name returns the process's short name.
func (ProcessLookup) Name(ctx context.Context, pid int) (string, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid)) // #nosec G115 -- pids fit in int32
	if err != nil {
		return "", err
	}
	return p.NameWithContext(ctx)
}

// Path returns the process's executable path.
func (ProcessLookup) Path(ctx context.Context, pid int) (string, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid)) // #nosec G115 -- pids fit in int32
	if err != nil {
		return "", err
	}
	return p.ExeWithContext(ctx)
}
