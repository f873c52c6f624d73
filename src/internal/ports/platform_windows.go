//go:build windows

package ports

import "github.com/jongio/portwarden/src/internal/executor"

// PlatformSource returns netstat-based enumeration; Windows exposes process
// ownership of sockets through `netstat -ano`.
func PlatformSource(runner executor.Runner) Source {
	return NewNetstatSource(runner)
}
