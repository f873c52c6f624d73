package ports

import "runtime"

// IsSystemPID reports whether pid belongs to the kernel or a core system
// process. Such processes are never resolved through OS tools and never killed.
// 0 is the idle/kernel pseudo-process and 4 is the Windows System process;
// on Unix-likes init (1) is protected as well.
func IsSystemPID(pid int) bool {
	switch pid {
	case 0, 4:
		return true
	case 1:
		return runtime.GOOS != "windows"
	default:
		return false
	}
}
