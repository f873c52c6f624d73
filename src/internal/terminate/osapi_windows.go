//go:build windows

package terminate

import "golang.org/x/sys/windows"

// TryTerminateViaOSAPI opens pid with terminate rights and ends it. The
// handle is released on every path.
func TryTerminateViaOSAPI(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid)) // #nosec G115 -- pid checked positive
	if err != nil {
		return false
	}
	defer func() { _ = windows.CloseHandle(h) }()

	return windows.TerminateProcess(h, 1) == nil
}
