// Package monitor wires the port cache, refresher and termination engine
// together and exposes the operations used by the CLI and dashboard.
package monitor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jongio/portwarden/src/internal/config"
	"github.com/jongio/portwarden/src/internal/events"
	"github.com/jongio/portwarden/src/internal/executor"
	"github.com/jongio/portwarden/src/internal/logging"
	"github.com/jongio/portwarden/src/internal/metrics"
	"github.com/jongio/portwarden/src/internal/portcache"
	"github.com/jongio/portwarden/src/internal/ports"
	"github.com/jongio/portwarden/src/internal/procname"
	"github.com/jongio/portwarden/src/internal/terminate"
)

// Parts are the host-specific collaborators.
type Parts struct {
	Source  ports.Source
	Lookup  procname.Lookup
	Ladder  []terminate.Strategy
	Checker terminate.Checker
	Lister  terminate.Lister
	Dropper terminate.Dropper
}

// PlatformParts returns the collaborators for the current OS.
func PlatformParts(runner executor.Runner, cfg config.TerminationConfig) Parts {
	breaker := terminate.NewElevationBreaker(cfg.ElevationFailureThreshold, cfg.ElevationCooldown)
	return Parts{
		Source:  ports.PlatformSource(runner),
		Lookup:  procname.PlatformLookup(runner),
		Ladder:  terminate.PlatformLadder(runner, breaker),
		Checker: terminate.PlatformChecker(runner),
		Lister:  terminate.ProcessLister{},
		Dropper: terminate.PlatformDropper(runner),
	}
}

// Service owns every shared handle. Nothing here is global; construct one
// per process at the composition root.
type Service struct {
	cache      *portcache.Cache
	scheduler  *portcache.Scheduler
	enumerator *ports.Enumerator
	resolver   *procname.Resolver
	names      *procname.Cache
	engine     *terminate.Engine
	metrics    *metrics.Metrics
	lockWait   time.Duration
	log        zerolog.Logger
}

// New builds a service. sink and m may be nil.
func New(cfg config.Config, parts Parts, sink events.Sink, m *metrics.Metrics) *Service {
	if sink == nil {
		sink = events.Discard
	}

	s := &Service{
		cache:      portcache.New(),
		enumerator: ports.NewEnumerator(parts.Source, cfg.Refresh.MaxLines),
		resolver:   procname.NewResolver(parts.Lookup),
		names:      procname.NewCache(cfg.Refresh.NameCacheTTL),
		metrics:    m,
		lockWait:   cfg.Refresh.LockWait,
		log:        logging.Component("monitor"),
	}

	s.scheduler = portcache.NewScheduler(s.cache, portcache.EnumeratorFunc(s.enumerate), sink, m, portcache.Options{
		Tick:        cfg.Refresh.Tick,
		MinInterval: cfg.Refresh.MinInterval,
		BatchSize:   cfg.Refresh.BatchSize,
		BatchPause:  cfg.Refresh.BatchPause,
		LockWait:    cfg.Refresh.LockWait,
		Names:       s.names,
		NameTTL:     cfg.Refresh.NameCacheTTL,
	})

	s.engine = terminate.NewEngine(terminate.Deps{
		Ladder:  parts.Ladder,
		Checker: parts.Checker,
		Lister:  parts.Lister,
		Dropper: parts.Dropper,
		Probe:   bindingProbe{enumerate: s.enumerate},
		Sink:    sink,
		Metrics: m,
	}, terminate.Options{
		SettleDelay:    cfg.Termination.SettleDelay,
		VerifyAttempts: cfg.Termination.VerifyAttempts,
		VerifyInterval: cfg.Termination.VerifyInterval,
		Policy:         terminate.NewPolicy(cfg.Termination.Sensitive),
	})
	return s
}

func (s *Service) enumerate(ctx context.Context, verbose bool) ([]ports.PortRecord, error) {
	return s.enumerator.Enumerate(ctx, s.resolver.Bind(s.names), verbose)
}

// Run drives the background refresher until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	return s.scheduler.Run(ctx)
}

// Scheduler exposes the refresher, mainly for status reporting.
func (s *Service) Scheduler() *portcache.Scheduler {
	return s.scheduler
}

// ListPorts returns the cached snapshot, or a fresh one when force is set.
// While the cache is still empty, or its lock is busy, the ports are
// enumerated directly and offered back to the cache. A forced refresh that
// fails falls back to the previous snapshot when there is one.
func (s *Service) ListPorts(ctx context.Context, force bool) ([]ports.PortRecord, error) {
	if force {
		records, err := s.scheduler.ForceRefresh(ctx, false)
		if err == nil || s.scheduler.State() == portcache.StateEmpty {
			return records, err
		}
		stale, readErr := s.cache.TryRead(s.lockWait)
		if readErr != nil {
			return nil, err
		}
		s.log.Warn().Err(err).Int("records", len(stale)).Msg("forced refresh failed, serving previous snapshot")
		return stale, nil
	}

	if s.scheduler.State() != portcache.StateEmpty {
		records, err := s.cache.TryRead(s.lockWait)
		if err == nil {
			return records, nil
		}
		s.log.Debug().Err(err).Msg("cache busy, enumerating directly")
	}

	records, err := s.enumerate(ctx, false)
	if err != nil {
		return nil, err
	}
	if err := s.cache.TryReplace(records, 0); err != nil {
		s.log.Debug().Err(err).Msg("could not store direct enumeration")
	}
	return records, nil
}

// CloseProcess terminates the whole process.
func (s *Service) CloseProcess(ctx context.Context, pid string) (string, error) {
	req, err := s.request(ctx, pid)
	if err != nil {
		return "", err
	}
	return s.run(ctx, req, s.engine.Terminate)
}

// CloseSpecificPort frees one binding of pid.
func (s *Service) CloseSpecificPort(ctx context.Context, pid, port, protocol, localAddr string) (string, error) {
	req, err := s.request(ctx, pid)
	if err != nil {
		return "", err
	}

	p, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil || p <= 0 || p > 65535 {
		return "", fmt.Errorf("invalid port %q: %w", port, terminate.ErrInvalidRequest)
	}
	proto, ok := ports.ParseProtocol(protocol)
	if !ok {
		return "", fmt.Errorf("invalid protocol %q: %w", protocol, terminate.ErrInvalidRequest)
	}

	req.Port = &p
	req.Protocol = &proto
	req.LocalAddress = strings.TrimSpace(localAddr)
	if req.LocalAddress == "" {
		req.LocalAddress = "*:" + strconv.Itoa(p)
	}
	return s.run(ctx, req, s.engine.ClosePort)
}

// CanClosePortIndividually reports whether the binding can be dropped without
// killing its owner.
func (s *Service) CanClosePortIndividually(protocol, localAddr string) bool {
	proto, ok := ports.ParseProtocol(protocol)
	if !ok {
		return false
	}
	return s.engine.CanDrop(proto, localAddr)
}

// ForceKill runs only the privileged levels.
func (s *Service) ForceKill(ctx context.Context, pid string) (string, error) {
	req, err := s.request(ctx, pid)
	if err != nil {
		return "", err
	}
	return s.run(ctx, req, s.engine.ForceKill)
}

// EmergencyKill sweeps children and runs the most aggressive levels.
func (s *Service) EmergencyKill(ctx context.Context, pid string) (string, error) {
	req, err := s.request(ctx, pid)
	if err != nil {
		return "", err
	}
	return s.run(ctx, req, s.engine.EmergencyKill)
}

// RefreshNow re-enumerates immediately and publishes the snapshot.
func (s *Service) RefreshNow(ctx context.Context, detailed bool) (string, error) {
	start := time.Now()
	records, err := s.scheduler.ForceRefresh(ctx, detailed)
	if err != nil {
		return "", fmt.Errorf("refresh failed: %w", err)
	}
	return fmt.Sprintf("Refreshed %d port(s) in %s", len(records), time.Since(start).Round(time.Millisecond)), nil
}

func (s *Service) request(ctx context.Context, pid string) (terminate.Request, error) {
	n, err := strconv.Atoi(strings.TrimSpace(pid))
	if err != nil || n < 0 {
		return terminate.Request{}, fmt.Errorf("invalid pid %q: %w", pid, terminate.ErrInvalidRequest)
	}
	req := terminate.Request{PID: n}
	if !ports.IsSystemPID(n) {
		if name := s.resolver.Resolve(ctx, n, s.names).Name; name != ports.UnknownName {
			req.ProcessName = name
		}
	}
	return req, nil
}

// run executes op on the engine's goroutine. The ladder is not cancelled
// with the caller; it always runs to a verdict.
func (s *Service) run(ctx context.Context, req terminate.Request, op terminate.Op) (string, error) {
	res := <-s.engine.Go(context.WithoutCancel(ctx), req, op)
	if res.Err != nil {
		return "", res.Err
	}
	return res.Outcome.Message, nil
}

// bindingProbe confirms a dropped binding against a fresh enumeration.
type bindingProbe struct {
	enumerate func(ctx context.Context, verbose bool) ([]ports.PortRecord, error)
}

func (p bindingProbe) Bound(ctx context.Context, pid int, protocol ports.Protocol, localAddress string) (bool, error) {
	records, err := p.enumerate(ctx, false)
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if r.PID == pid && r.Protocol == protocol && r.LocalAddress == localAddress {
			return true, nil
		}
	}
	return false, nil
}
