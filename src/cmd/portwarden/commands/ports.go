package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jongio/portwarden/src/internal/output"
	"github.com/jongio/portwarden/src/internal/ports"
)

// NewListCommand creates the list command.
func NewListCommand(opts *Options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bound ports and their owning processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := opts.oneShot()
			if err != nil {
				return err
			}
			records, err := backend.ListPorts(cmd.Context(), force)
			if err != nil {
				return err
			}
			ports.Sort(records)
			return output.Print(records, func() { printRecords(records) })
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-enumerate instead of using the cached snapshot")
	return cmd
}

func printRecords(records []ports.PortRecord) {
	if len(records) == 0 {
		output.Info("No bound ports found")
		return
	}
	output.Header(fmt.Sprintf("%d bound port(s)", len(records)))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROTO\tLOCAL\tFOREIGN\tSTATE\tPID\tPROCESS")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", r.Protocol, r.LocalAddress, r.ForeignAddress, r.State, r.PID, r.ProcessName)
	}
	_ = w.Flush()
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(opts *Options) *cobra.Command {
	var detailed bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-enumerate ports immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := opts.oneShot()
			if err != nil {
				return err
			}
			msg, err := backend.RefreshNow(cmd.Context(), detailed)
			if err != nil {
				return err
			}
			return output.Print(map[string]string{"message": msg}, func() { output.Success("%s", msg) })
		},
	}

	cmd.Flags().BoolVar(&detailed, "detailed", false, "Log per-row parse diagnostics")
	return cmd
}

// NewCanCloseCommand creates the can-close command.
func NewCanCloseCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "can-close <protocol> <local-address>",
		Short: "Report whether a binding can be closed without killing its process",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := opts.oneShot()
			if err != nil {
				return err
			}
			ok := backend.CanClosePortIndividually(args[0], args[1])
			return output.Print(map[string]bool{"can_close": ok}, func() {
				if ok {
					output.Success("%s %s can be closed individually", args[0], args[1])
				} else {
					output.Warning("%s %s can only be freed by terminating its process", args[0], args[1])
				}
			})
		},
	}
	return cmd
}
