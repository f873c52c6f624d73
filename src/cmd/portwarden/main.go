package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jongio/portwarden/src/cmd/portwarden/commands"
	"github.com/jongio/portwarden/src/internal/logging"
	"github.com/jongio/portwarden/src/internal/output"
)

var (
	outputFormat   string
	debugMode      bool
	structuredLogs bool
)

func main() {
	opts := &commands.Options{}

	rootCmd := &cobra.Command{
		Use:           "portwarden",
		Short:         "Portwarden - find and free bound ports",
		Long:          `Portwarden lists the ports bound on this machine with their owning processes, and frees them by closing connections or terminating processes with an escalating ladder of methods.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.SetupLogger(debugMode, structuredLogs)

			if debugMode {
				logging.Debug("Starting portwarden",
					"version", commands.Version,
					"command", cmd.Name(),
					"args", args,
				)
			}

			return output.SetFormat(outputFormat)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "default", "Output format (default, json)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&structuredLogs, "structured-logs", false, "Enable structured JSON logging to stderr")
	rootCmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to a YAML config file (or set PORTWARDEN_CONFIG)")

	rootCmd.AddCommand(
		commands.NewListCommand(opts),
		commands.NewRefreshCommand(opts),
		commands.NewKillCommand(opts),
		commands.NewClosePortCommand(opts),
		commands.NewCanCloseCommand(opts),
		commands.NewForceKillCommand(opts),
		commands.NewEmergencyKillCommand(opts),
		commands.NewServeCommand(opts),
		commands.NewVersionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
