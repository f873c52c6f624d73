//go:build unix

package terminate

import "golang.org/x/sys/unix"

// TryTerminateViaOSAPI sends SIGKILL with kill(2), bypassing any shell tool.
func TryTerminateViaOSAPI(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, unix.SIGKILL) == nil
}
