// Package terminate ends the process that owns a port through an escalating
// ladder of strategies, verifying after each one.
package terminate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/jongio/portwarden/src/internal/events"
	"github.com/jongio/portwarden/src/internal/executor"
	"github.com/jongio/portwarden/src/internal/logging"
	"github.com/jongio/portwarden/src/internal/metrics"
	"github.com/jongio/portwarden/src/internal/ports"
)

const methodConnectionDrop = "connection drop"

var errStillRunning = errors.New("process still running")

// Options tune verification and the sensitive-process policy.
type Options struct {
	SettleDelay    time.Duration // wait after a strategy before the first check
	VerifyAttempts int           // existence checks per level
	VerifyInterval time.Duration // spacing between checks
	Policy         Policy
}

// DefaultOptions mirror the configuration defaults.
func DefaultOptions() Options {
	return Options{
		SettleDelay:    500 * time.Millisecond,
		VerifyAttempts: 3,
		VerifyInterval: 300 * time.Millisecond,
		Policy:         DefaultPolicy(),
	}
}

// Deps are the engine's collaborators. Ladder and Checker are required.
type Deps struct {
	Ladder  []Strategy
	Checker Checker
	Lister  Lister
	Dropper Dropper
	Probe   Probe
	Sink    events.Sink
	Metrics *metrics.Metrics
}

// Engine runs termination requests. It holds no per-request state and may be
// used from many goroutines.
type Engine struct {
	ladder  []Strategy
	checker Checker
	lister  Lister
	dropper Dropper
	probe   Probe
	sink    events.Sink
	metrics *metrics.Metrics
	opts    Options
	log     zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an engine.
func NewEngine(deps Deps, opts Options) *Engine {
	if opts.VerifyAttempts <= 0 {
		opts.VerifyAttempts = 1
	}
	if deps.Sink == nil {
		deps.Sink = events.Discard
	}
	return &Engine{
		ladder:  deps.Ladder,
		checker: deps.Checker,
		lister:  deps.Lister,
		dropper: deps.Dropper,
		probe:   deps.Probe,
		sink:    deps.Sink,
		metrics: deps.Metrics,
		opts:    opts,
		log:     logging.Component("terminate"),
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Go runs op on its own goroutine. The channel yields exactly one Result.
func (e *Engine) Go(ctx context.Context, req Request, op Op) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		out, err := op(ctx, req)
		ch <- Result{Outcome: out, Err: err}
	}()
	return ch
}

// Terminate ends the whole process, walking the full ladder.
func (e *Engine) Terminate(ctx context.Context, req Request) (Outcome, error) {
	if err := e.guard(req); err != nil {
		return Outcome{}, err
	}
	name := e.processName(ctx, req)
	if pattern, ok := e.opts.Policy.Match(name); ok {
		e.log.Info().Int("pid", req.PID).Str("name", name).Str("pattern", pattern).Msg("terminating sensitive process")
	}
	return e.escalate(ctx, req, e.ladder)
}

// ClosePort frees one binding. TCP bindings are first dropped without killing
// the owner when the host supports it; otherwise the owner is terminated.
func (e *Engine) ClosePort(ctx context.Context, req Request) (Outcome, error) {
	if err := e.guard(req); err != nil {
		return Outcome{}, err
	}

	if req.Protocol != nil && e.CanDrop(*req.Protocol, req.LocalAddress) {
		if out, ok := e.tryDrop(ctx, req); ok {
			return out, nil
		}
	}

	name := e.processName(ctx, req)
	if pattern, ok := e.opts.Policy.Match(name); ok {
		e.log.Info().Int("pid", req.PID).Str("name", name).Str("pattern", pattern).Msg("sensitive process, sweeping siblings first")
		swept := e.sweep(ctx, req.PID, func(p ProcessInfo) bool {
			matched, ok := e.opts.Policy.Match(p.Name)
			return ok && matched == pattern
		})
		e.log.Debug().Int("pid", req.PID).Int("swept", swept).Msg("sibling sweep finished")
	}

	return e.escalate(ctx, req, e.ladder)
}

// ForceKill skips straight to the elevated and OS API levels.
func (e *Engine) ForceKill(ctx context.Context, req Request) (Outcome, error) {
	if err := e.guard(req); err != nil {
		return Outcome{}, err
	}
	if !e.HasElevation() {
		return Outcome{}, &Error{PID: req.PID, Port: req.Port, Kind: ErrUnsupported}
	}
	return e.escalate(ctx, req, e.levels(LevelElevated, LevelOSAPI))
}

// EmergencyKill kills the process's children, then runs tree, elevated and
// OS API termination on it.
func (e *Engine) EmergencyKill(ctx context.Context, req Request) (Outcome, error) {
	if err := e.guard(req); err != nil {
		return Outcome{}, err
	}
	if !e.HasElevation() {
		return Outcome{}, &Error{PID: req.PID, Port: req.Port, Kind: ErrUnsupported}
	}

	swept := e.sweep(ctx, req.PID, func(p ProcessInfo) bool { return p.PPID == req.PID })
	e.log.Info().Int("pid", req.PID).Int("children", swept).Msg("emergency kill, children swept")

	return e.escalate(ctx, req, e.levels(LevelTree, LevelElevated, LevelOSAPI))
}

// CanDrop reports whether a binding can be closed without killing its owner.
func (e *Engine) CanDrop(protocol ports.Protocol, localAddress string) bool {
	if protocol != ports.TCP || e.dropper == nil || ports.PortOf(localAddress) == 0 {
		return false
	}
	return e.dropper.Available()
}

// HasElevation reports whether the ladder has an elevated level.
func (e *Engine) HasElevation() bool {
	_, ok := e.strategy(LevelElevated)
	return ok
}

func (e *Engine) guard(req Request) error {
	if req.PID < 0 {
		e.metrics.ObserveTermination(metrics.OutcomeRejected, LevelNone.String())
		return &Error{PID: req.PID, Port: req.Port, Kind: ErrInvalidRequest}
	}
	if ports.IsSystemPID(req.PID) {
		e.log.Warn().Int("pid", req.PID).Msg("refusing to terminate system process")
		e.metrics.ObserveTermination(metrics.OutcomeRejected, LevelNone.String())
		return &Error{PID: req.PID, Port: req.Port, Kind: ErrSystemProcessProtected}
	}
	return nil
}

// escalate is the single ladder driver.
func (e *Engine) escalate(ctx context.Context, req Request, ladder []Strategy) (Outcome, error) {
	// last is the most recent level that actually ran; unverified is set when
	// a later level failed to run, so the process may have exited since the
	// last check.
	var last *Strategy
	unverified := false
	for i := range ladder {
		s := &ladder[i]
		log := e.log.With().Int("pid", req.PID).Str("level", s.Level.String()).Str("method", s.Name).Logger()
		log.Debug().Msg("attempting termination")

		err := s.Run(ctx, req.PID)
		if err != nil && executor.IsNotExecuted(err) {
			log.Debug().Err(err).Msg("method unavailable, escalating")
			unverified = last != nil
			continue
		}
		if err != nil {
			log.Debug().Err(err).Msg("method reported failure, verifying anyway")
		}

		last, unverified = s, false
		if e.verifyGone(ctx, req.PID) {
			log.Info().Msg("process terminated")
			return e.succeed(req, s.Level, s.Name), nil
		}
		log.Debug().Msg("process survived, escalating")
	}

	if unverified && e.verifyGone(ctx, req.PID) {
		e.log.Info().Int("pid", req.PID).Str("level", last.Level.String()).Msg("process exited after a later method failed")
		return e.succeed(req, last.Level, last.Name), nil
	}

	e.log.Error().Int("pid", req.PID).Int("levels", len(ladder)).Msg("all termination methods exhausted")
	e.metrics.ObserveTermination(metrics.OutcomeExhausted, LevelNone.String())
	events.Notify(e.sink, e.log, events.EventPortCloseError, events.TargetPayload(req.PID, req.Port))
	return Outcome{}, &Error{PID: req.PID, Port: req.Port, Kind: ErrAllMethodsExhausted}
}

func (e *Engine) succeed(req Request, level Level, method string) Outcome {
	e.metrics.ObserveTermination(metrics.OutcomeClosed, level.String())
	events.Notify(e.sink, e.log, events.EventPortClosed, events.TargetPayload(req.PID, req.Port))

	msg := fmt.Sprintf("Process %d terminated (%s)", req.PID, method)
	if req.Port != nil {
		msg = fmt.Sprintf("Port %d closed, process %d terminated (%s)", *req.Port, req.PID, method)
		if level == LevelNone {
			msg = fmt.Sprintf("Port %d closed (%s)", *req.Port, method)
		}
	}
	return Outcome{PID: req.PID, Port: req.Port, Level: level, Method: method, Message: msg}
}

// verifyGone waits SettleDelay, then polls the checker. Only a definite
// "does not exist" answer counts; checker errors count as alive.
func (e *Engine) verifyGone(ctx context.Context, pid int) bool {
	if err := e.sleep(ctx, e.opts.SettleDelay); err != nil {
		return false
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.opts.VerifyInterval), uint64(e.opts.VerifyAttempts-1)), // #nosec G115 -- attempts >= 1
		ctx)

	err := backoff.Retry(func() error {
		exists, err := e.checker.Exists(ctx, pid)
		if err != nil {
			e.log.Debug().Err(err).Int("pid", pid).Msg("existence check failed")
			return err
		}
		if exists {
			return errStillRunning
		}
		return nil
	}, policy)
	return err == nil
}

func (e *Engine) tryDrop(ctx context.Context, req Request) (Outcome, bool) {
	log := e.log.With().Int("pid", req.PID).Str("local", req.LocalAddress).Logger()

	if err := e.dropper.Drop(ctx, req.LocalAddress); err != nil {
		log.Debug().Err(err).Msg("connection drop failed, terminating owner")
		return Outcome{}, false
	}
	if e.probe == nil {
		return Outcome{}, false
	}
	if err := e.sleep(ctx, e.opts.SettleDelay); err != nil {
		return Outcome{}, false
	}
	bound, err := e.probe.Bound(ctx, req.PID, ports.TCP, req.LocalAddress)
	if err != nil || bound {
		log.Debug().Err(err).Bool("bound", bound).Msg("binding survived connection drop, terminating owner")
		return Outcome{}, false
	}
	return e.succeed(req, LevelNone, methodConnectionDrop), true
}

// sweep force-kills every process matching match, except target and system
// pids. It returns how many were signalled.
func (e *Engine) sweep(ctx context.Context, target int, match func(ProcessInfo) bool) int {
	forced, ok := e.strategy(LevelForced)
	if !ok || e.lister == nil {
		return 0
	}
	procs, err := e.lister.Processes(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("could not list processes for sweep")
		return 0
	}

	n := 0
	for _, p := range procs {
		if p.PID == target || ports.IsSystemPID(p.PID) || !match(p) {
			continue
		}
		if err := forced.Run(ctx, p.PID); err != nil {
			e.log.Debug().Err(err).Int("pid", p.PID).Str("name", p.Name).Msg("sweep kill failed")
		}
		n++
	}
	return n
}

func (e *Engine) processName(ctx context.Context, req Request) string {
	if req.ProcessName != "" || e.lister == nil {
		return req.ProcessName
	}
	procs, err := e.lister.Processes(ctx)
	if err != nil {
		return ""
	}
	for _, p := range procs {
		if p.PID == req.PID {
			return p.Name
		}
	}
	return ""
}

func (e *Engine) strategy(level Level) (Strategy, bool) {
	for _, s := range e.ladder {
		if s.Level == level {
			return s, true
		}
	}
	return Strategy{}, false
}

func (e *Engine) levels(levels ...Level) []Strategy {
	var out []Strategy
	for _, l := range levels {
		if s, ok := e.strategy(l); ok {
			out = append(out, s)
		}
	}
	return out
}
