// Package events delivers named notifications to UI-facing sinks.
package events

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jongio/portwarden/src/internal/logging"
	"github.com/jongio/portwarden/src/internal/ports"
)

// Event names.
const (
	EventPortsData      = "ports-data"
	EventPortClosed     = "port-closed"
	EventPortCloseError = "port-close-error"
)

// Sink accepts named events. Emit failures are reported to the caller, who
// logs them; delivery is fire-and-forget and never alters an operation's outcome.
type Sink interface {
	Emit(event string, payload any) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event string, payload any) error

// Emit calls f.
func (f SinkFunc) Emit(event string, payload any) error { return f(event, payload) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(string, any) error { return nil })

// TargetPayload formats the payload of termination events: "<pid>" or "<pid>:<port>".
func TargetPayload(pid int, port *int) string {
	if port == nil {
		return fmt.Sprintf("%d", pid)
	}
	return fmt.Sprintf("%d:%d", pid, *port)
}

// LogSink writes events to a logger. Snapshot payloads are summarized.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a sink that logs under the "events" component.
func NewLogSink() *LogSink {
	return &LogSink{log: logging.Component("events")}
}

// Emit logs the event.
func (s *LogSink) Emit(event string, payload any) error {
	e := s.log.Info().Str("event", event)
	switch p := payload.(type) {
	case string:
		e = e.Str("payload", p)
	case []ports.PortRecord:
		e = e.Int("records", len(p))
	default:
		e = e.Type("payload", p)
	}
	e.Msg("event")
	return nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

// Emit delivers to all sinks even when some fail.
func (m Multi) Emit(event string, payload any) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notify emits and logs a delivery failure instead of returning it.
func Notify(sink Sink, log zerolog.Logger, event string, payload any) {
	if sink == nil {
		return
	}
	if err := sink.Emit(event, payload); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("event delivery failed")
	}
}
