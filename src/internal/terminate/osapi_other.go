//go:build !unix && !windows

package terminate

// TryTerminateViaOSAPI is unavailable on this platform.
func TryTerminateViaOSAPI(int) bool {
	return false
}
