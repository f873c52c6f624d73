//go:build !windows

package ports

import "github.com/jongio/portwarden/src/internal/executor"

// PlatformSource returns socket-table enumeration on Unix-likes, where
// netstat output lacks a portable pid column.
func PlatformSource(_ executor.Runner) Source {
	return NewSocketSource()
}
