package ports

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jongio/portwarden/src/internal/executor"
	"github.com/jongio/portwarden/src/internal/logging"
)

// DefaultMaxLines caps how many raw lines of tool output are processed.
const DefaultMaxLines = 5000

// EnumerationError reports that the OS listing tool could not be run by any
// fallback method. A tool that runs but lists nothing is not an error.
type EnumerationError struct {
	Attempts []string // command lines that were tried
	Err      error    // last failure
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("port enumeration failed after %d attempt(s) [%s]: %v",
		len(e.Attempts), strings.Join(e.Attempts, "; "), e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }

// IsEnumerationError reports whether err is an *EnumerationError.
func IsEnumerationError(err error) bool {
	var enumErr *EnumerationError
	return errors.As(err, &enumErr)
}

// Source produces the raw bindings currently present on the host.
type Source interface {
	Bindings(ctx context.Context, maxLines int) ([]Binding, ParseStats, error)
}

// NameResolver maps a pid to its display name and executable path.
type NameResolver interface {
	Resolve(ctx context.Context, pid int) (name string, path string)
}

// Enumerator combines a Source with process-name resolution.
type Enumerator struct {
	source   Source
	maxLines int
	log      zerolog.Logger
}

// NewEnumerator creates an enumerator. maxLines <= 0 selects DefaultMaxLines.
func NewEnumerator(source Source, maxLines int) *Enumerator {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Enumerator{
		source:   source,
		maxLines: maxLines,
		log:      logging.Component("enumerator"),
	}
}

// NewPlatformEnumerator returns an enumerator backed by the platform's default source.
func NewPlatformEnumerator(runner executor.Runner, maxLines int) *Enumerator {
	return NewEnumerator(PlatformSource(runner), maxLines)
}

// Enumerate lists the current bindings, resolving names through names.
// Reserved system pids get SystemName without consulting the resolver, and
// bindings the source could not attribute get UnknownName.
func (e *Enumerator) Enumerate(ctx context.Context, names NameResolver, verbose bool) ([]PortRecord, error) {
	bindings, stats, err := e.source.Bindings(ctx, e.maxLines)
	if err != nil {
		return nil, err
	}

	if stats.Truncated {
		e.log.Warn().Int("maxLines", e.maxLines).Msg("port listing truncated, remaining lines ignored")
	}

	records := make([]PortRecord, 0, len(bindings))
	for _, b := range bindings {
		r := PortRecord{
			Protocol:       b.Protocol,
			LocalAddress:   b.LocalAddress,
			ForeignAddress: b.ForeignAddress,
			State:          b.State,
			PID:            b.PID,
		}
		if b.Protocol == UDP {
			r.State = ""
		}

		switch {
		case b.Unattributed:
			r.ProcessName = UnknownName
		case IsSystemPID(b.PID):
			r.ProcessName = SystemName
		case names != nil:
			r.ProcessName, r.ProcessPath = names.Resolve(ctx, b.PID)
		}
		if r.ProcessName == "" {
			r.ProcessName = UnknownName
		}
		records = append(records, r)
	}

	event := e.log.Debug()
	if verbose {
		event = e.log.Info()
	}
	event.Int("records", len(records)).
		Int("lines", stats.Lines).
		Int("skipped", stats.Skipped).
		Msg("enumerated ports")

	return records, nil
}

// Invocation is one way of running the listing tool.
type Invocation struct {
	Name string
	Args []string
}

func (i Invocation) String() string {
	return strings.TrimSpace(i.Name + " " + strings.Join(i.Args, " "))
}

// NetstatInvocations are tried in order until one executes.
var NetstatInvocations = []Invocation{
	{Name: "netstat", Args: []string{"-ano"}},
	{Name: "cmd", Args: []string{"/C", "netstat", "-ano"}},
	{Name: "powershell", Args: []string{"-NoProfile", "-NonInteractive", "-Command", "netstat -ano"}},
}

// NetstatSource runs netstat and parses its table.
type NetstatSource struct {
	Runner      executor.Runner
	Invocations []Invocation
	log         zerolog.Logger
}

// NewNetstatSource creates a source that uses NetstatInvocations.
func NewNetstatSource(runner executor.Runner) *NetstatSource {
	return &NetstatSource{
		Runner:      runner,
		Invocations: NetstatInvocations,
		log:         logging.Component("netstat"),
	}
}

// Bindings runs the first invocation that executes and parses its output.
// An invocation that runs but exits non-zero still has its output parsed.
func (s *NetstatSource) Bindings(ctx context.Context, maxLines int) ([]Binding, ParseStats, error) {
	enumErr := &EnumerationError{}
	for _, inv := range s.Invocations {
		enumErr.Attempts = append(enumErr.Attempts, inv.String())

		out, err := s.Runner.Output(ctx, inv.Name, inv.Args...)
		if err != nil && executor.IsNotExecuted(err) {
			s.log.Debug().Err(err).Str("command", inv.String()).Msg("listing tool did not run, trying next")
			enumErr.Err = err
			continue
		}
		if err != nil {
			s.log.Debug().Err(err).Str("command", inv.String()).Msg("listing tool exited with error, parsing output anyway")
		}

		text, encoding := decodeOutput(out)
		s.log.Debug().Str("encoding", encoding).Int("bytes", len(out)).Msg("decoded listing output")

		bindings, stats := ParseNetstat(text, maxLines)
		return bindings, stats, nil
	}

	if enumErr.Err == nil {
		enumErr.Err = errors.New("no invocation configured")
	}
	return nil, ParseStats{}, enumErr
}
