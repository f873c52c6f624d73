// Package logging configures the process-wide zerolog logger and provides
// key/value helpers for command-level code.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()
)

// SetupLogger configures the global logger.
// Structured mode writes JSON lines to stderr; otherwise a console writer is used.
func SetupLogger(debug bool, structured bool) {
	setup(os.Stderr, debug, structured)
}

func setup(w io.Writer, debug bool, structured bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	out := w
	if !structured {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	mu.Lock()
	logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	mu.Unlock()
}

// Logger returns the current global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	l := Logger()
	return l.With().Str("component", name).Logger()
}

// IsDebugEnabled reports whether debug output is active.
func IsDebugEnabled() bool {
	l := Logger()
	return l.GetLevel() <= zerolog.DebugLevel
}

// Debug logs a debug message with alternating key/value pairs.
func Debug(msg string, keyvals ...interface{}) {
	l := Logger()
	l.Debug().Fields(keyvals).Msg(msg)
}

// Info logs an informational message with alternating key/value pairs.
func Info(msg string, keyvals ...interface{}) {
	l := Logger()
	l.Info().Fields(keyvals).Msg(msg)
}

// Warn logs a warning with alternating key/value pairs.
func Warn(msg string, keyvals ...interface{}) {
	l := Logger()
	l.Warn().Fields(keyvals).Msg(msg)
}

// Error logs an error with alternating key/value pairs.
func Error(msg string, keyvals ...interface{}) {
	l := Logger()
	l.Error().Fields(keyvals).Msg(msg)
}
