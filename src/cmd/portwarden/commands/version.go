package commands

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/jongio/portwarden/src/internal/output"
)

// VersionInfo is the JSON output of the version command.
type VersionInfo struct {
	Version string `json:"version"`
	Go      string `json:"go"`
	OS      string `json:"os"`
	Arch    string `json:"arch"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := VersionInfo{Version: Version, Go: runtime.Version(), OS: runtime.GOOS, Arch: runtime.GOARCH}
			return output.Print(info, func() {
				output.Label("Version", info.Version)
				output.Label("Go", info.Go)
				output.Label("Platform", info.OS+"/"+info.Arch)
			})
		},
	}
}
