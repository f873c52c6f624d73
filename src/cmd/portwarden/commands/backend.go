// Package commands provides the command-line interface for portwarden.
package commands

import (
	"context"

	"github.com/jongio/portwarden/src/internal/config"
	"github.com/jongio/portwarden/src/internal/dashboard"
	"github.com/jongio/portwarden/src/internal/events"
	"github.com/jongio/portwarden/src/internal/executor"
	"github.com/jongio/portwarden/src/internal/metrics"
	"github.com/jongio/portwarden/src/internal/monitor"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Backend is the set of operations the commands drive.
type Backend interface {
	dashboard.Operations
	Run(ctx context.Context) error
}

// BackendFactory builds a backend for one command invocation.
type BackendFactory func(cfg config.Config, sink events.Sink, m *metrics.Metrics) Backend

// Options is shared by every command.
type Options struct {
	// ConfigPath is the --config flag value.
	ConfigPath string
	// NewBackend overrides the platform backend, mainly for tests.
	NewBackend BackendFactory
}

// PlatformBackend wires a monitor service against the real OS.
func PlatformBackend(cfg config.Config, sink events.Sink, m *metrics.Metrics) Backend {
	parts := monitor.PlatformParts(executor.OSRunner{}, cfg.Termination)
	return monitor.New(cfg, parts, sink, m)
}

func (o *Options) load() (config.Config, error) {
	return config.Load(o.ConfigPath)
}

func (o *Options) backend(cfg config.Config, sink events.Sink, m *metrics.Metrics) Backend {
	if o.NewBackend != nil {
		return o.NewBackend(cfg, sink, m)
	}
	return PlatformBackend(cfg, sink, m)
}

// oneShot builds a backend for a single request. Events are only logged.
func (o *Options) oneShot() (Backend, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return o.backend(cfg, events.NewLogSink(), nil), nil
}
