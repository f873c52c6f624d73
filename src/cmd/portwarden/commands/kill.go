package commands

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jongio/portwarden/src/internal/output"
)

// ActionResult is the JSON output of termination commands.
type ActionResult struct {
	PID     string `json:"pid"`
	Message string `json:"message"`
}

type action func(b Backend, ctx context.Context, pid string) (string, error)

func newActionCommand(opts *Options, use, short string, run action) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <pid>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := opts.oneShot()
			if err != nil {
				return err
			}
			msg, err := run(backend, cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printAction(args[0], msg)
		},
	}
}

func printAction(pid, msg string) error {
	return output.Print(ActionResult{PID: pid, Message: msg}, func() { output.Success("%s", msg) })
}

// NewKillCommand creates the kill command.
func NewKillCommand(opts *Options) *cobra.Command {
	return newActionCommand(opts, "kill", "Terminate a process, escalating until it exits", Backend.CloseProcess)
}

// NewForceKillCommand creates the force-kill command.
func NewForceKillCommand(opts *Options) *cobra.Command {
	return newActionCommand(opts, "force-kill", "Terminate a process using only privileged methods", Backend.ForceKill)
}

// NewEmergencyKillCommand creates the emergency-kill command.
func NewEmergencyKillCommand(opts *Options) *cobra.Command {
	return newActionCommand(opts, "emergency-kill", "Kill a process and its children with the most aggressive methods", Backend.EmergencyKill)
}

// NewClosePortCommand creates the close-port command.
func NewClosePortCommand(opts *Options) *cobra.Command {
	var (
		protocol     string
		localAddress string
	)

	cmd := &cobra.Command{
		Use:   "close-port <pid> <port>",
		Short: "Free one port held by a process",
		Long:  `Frees a single binding. TCP bindings are dropped in place where the OS allows it; otherwise the owning process is terminated.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := opts.oneShot()
			if err != nil {
				return err
			}
			msg, err := backend.CloseSpecificPort(cmd.Context(), args[0], args[1], strings.ToUpper(protocol), localAddress)
			if err != nil {
				return err
			}
			return printAction(args[0], msg)
		},
	}

	cmd.Flags().StringVarP(&protocol, "protocol", "p", "TCP", "Protocol of the binding (TCP, UDP)")
	cmd.Flags().StringVar(&localAddress, "local-address", "", "Local address of the binding (default *:<port>)")
	return cmd
}
