package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jongio/portwarden/src/internal/config"
	"github.com/jongio/portwarden/src/internal/dashboard"
	"github.com/jongio/portwarden/src/internal/events"
	"github.com/jongio/portwarden/src/internal/logging"
	"github.com/jongio/portwarden/src/internal/metrics"
	"github.com/jongio/portwarden/src/internal/output"
	"github.com/jongio/portwarden/src/internal/portmanager"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *Options) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the background refresher and the dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Dashboard.Address = address
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts, cfg)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Dashboard listen address (host:port, port 0 reuses the saved port)")
	return cmd
}

// serve runs until ctx is done or either half fails.
func serve(ctx context.Context, opts *Options, cfg config.Config) error {
	m := metrics.New()
	hub := dashboard.NewHub(cfg.Dashboard.EventsPerSecond, m)
	backend := opts.backend(cfg, events.Multi{hub, events.NewLogSink()}, m)

	pm, err := openPortManager(cfg.Dashboard)
	if err != nil {
		return err
	}
	listener, err := dashboard.Listen(cfg.Dashboard.Address, pm)
	if err != nil {
		return err
	}

	output.Success("Dashboard at %s", output.URL("http://"+listener.Addr().String()))
	logging.Debug("starting refresher and dashboard", "address", listener.Addr().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return backend.Run(ctx) })
	g.Go(func() error { return dashboard.NewServer(backend, hub, m).Serve(ctx, listener) })
	return g.Wait()
}

// openPortManager loads the saved dashboard port, dropping assignments that
// have not been used within AssignmentMaxAge. It returns nil when no state
// directory is configured.
func openPortManager(cfg config.DashboardConfig) (*portmanager.PortManager, error) {
	if cfg.StateDir == "" {
		return nil, nil
	}
	pm := portmanager.New(cfg.StateDir)
	if err := pm.SetRange(cfg.PortRangeStart, cfg.PortRangeEnd); err != nil {
		return nil, err
	}
	if cfg.AssignmentMaxAge > 0 {
		if removed := pm.CleanStale(cfg.AssignmentMaxAge); removed > 0 {
			logging.Debug("dropped stale port assignments", "count", removed)
		}
	}
	return pm, nil
}
