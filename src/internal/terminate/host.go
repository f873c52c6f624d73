package terminate

import (
	"context"
	"errors"
	"net"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/jongio/portwarden/src/internal/executor"
	"github.com/jongio/portwarden/src/internal/ports"
	"github.com/jongio/portwarden/src/internal/procname"
)

// Checker reports whether a pid is still alive. Only (false, nil) proves a
// process is gone.
type Checker interface {
	Exists(ctx context.Context, pid int) (bool, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, pid int) (bool, error)

// Exists calls f.
func (f CheckerFunc) Exists(ctx context.Context, pid int) (bool, error) { return f(ctx, pid) }

// ProcessInfo is a row of the process table.
type ProcessInfo struct {
	PID  int
	PPID int
	Name string
}

// Lister reads the process table for name lookups and sweeps.
type Lister interface {
	Processes(ctx context.Context) ([]ProcessInfo, error)
}

// Dropper deletes TCP connection entries without killing their owner.
type Dropper interface {
	Available() bool
	Drop(ctx context.Context, localAddress string) error
}

// Probe reports whether pid still holds a binding on localAddress.
type Probe interface {
	Bound(ctx context.Context, pid int, protocol ports.Protocol, localAddress string) (bool, error)
}

// TasklistChecker checks existence with tasklist.
type TasklistChecker struct {
	Runner executor.Runner
}

// Exists runs a pid-filtered tasklist query.
func (c TasklistChecker) Exists(ctx context.Context, pid int) (bool, error) {
	_, err := procname.TasklistLookup{Runner: c.Runner}.Name(ctx, pid)
	if errors.Is(err, procname.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ProcessChecker checks existence in the process table via gopsutil.
type ProcessChecker struct{}

// Exists reports whether pid is present.
func (ProcessChecker) Exists(ctx context.Context, pid int) (bool, error) {
	return process.PidExistsWithContext(ctx, int32(pid)) // #nosec G115 -- pids fit in int32
}

// ProcessLister lists processes via gopsutil. Rows whose attributes cannot be
// read are returned with what is known.
type ProcessLister struct{}

// Processes returns every visible process.
func (ProcessLister) Processes(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		info := ProcessInfo{PID: int(p.Pid)}
		if ppid, err := p.PpidWithContext(ctx); err == nil {
			info.PPID = int(ppid)
		}
		if name, err := p.NameWithContext(ctx); err == nil {
			info.Name = name
		}
		out = append(out, info)
	}
	return out, nil
}

// SSDropper kills established TCP sockets with `ss -K` (Linux, needs
// CAP_NET_ADMIN and a kernel built with SOCK_DESTROY).
type SSDropper struct {
	Runner   executor.Runner
	lookPath func(string) (string, error)
	goos     string
}

// NewSSDropper creates a dropper for the current host.
func NewSSDropper(runner executor.Runner) *SSDropper {
	return &SSDropper{Runner: runner, lookPath: exec.LookPath, goos: runtime.GOOS}
}

// Available reports whether ss can be used on this host.
func (d *SSDropper) Available() bool {
	if d.goos != "linux" {
		return false
	}
	_, err := d.lookPath("ss")
	return err == nil
}

// Drop kills TCP sockets bound to localAddress.
func (d *SSDropper) Drop(ctx context.Context, localAddress string) error {
	args, err := ssKillArgs(localAddress)
	if err != nil {
		return err
	}
	_, err = d.Runner.Output(ctx, "ss", args...)
	return err
}

func ssKillArgs(localAddress string) ([]string, error) {
	host, port, err := net.SplitHostPort(localAddress)
	if err != nil {
		return nil, err
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return nil, errors.New("invalid port in " + localAddress)
	}

	args := []string{"-K", "-t"}
	switch host {
	case "", "*", "0.0.0.0", "::":
	default:
		if net.ParseIP(host) == nil {
			return nil, errors.New("invalid host in " + localAddress)
		}
		args = append(args, "src", host, "and")
	}
	return append(args, "sport", "=", ":"+port), nil
}
