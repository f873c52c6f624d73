package terminate

import (
	"context"
	"fmt"

	"github.com/jongio/portwarden/src/internal/ports"
)

// Level is one rung of the escalation ladder, numbered in escalation order.
type Level int

const (
	LevelNone Level = iota
	LevelStandard
	LevelForced
	LevelTree
	LevelElevated
	LevelOSAPI
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelStandard:
		return "standard"
	case LevelForced:
		return "forced"
	case LevelTree:
		return "tree"
	case LevelElevated:
		return "elevated"
	case LevelOSAPI:
		return "os-api"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Strategy is one way of asking the OS to end a process. Run returns an
// error that satisfies executor.IsNotExecuted when the mechanism itself could
// not run; any other outcome is followed by an existence check.
type Strategy struct {
	Level Level
	Name  string
	Run   func(ctx context.Context, pid int) error
}

// Request describes what to terminate. Port, Protocol and LocalAddress are
// only meaningful for per-port closure.
type Request struct {
	PID          int
	Port         *int
	Protocol     *ports.Protocol
	LocalAddress string
	ProcessName  string // optional; looked up when empty
}

// Outcome describes a verified termination.
type Outcome struct {
	PID     int    `json:"pid"`
	Port    *int   `json:"port,omitempty"`
	Level   Level  `json:"-"`
	Method  string `json:"method"`
	Message string `json:"message"`
}

// Result is delivered by Go.
type Result struct {
	Outcome Outcome
	Err     error
}

// Op is any of the engine's termination entry points.
type Op func(ctx context.Context, req Request) (Outcome, error)
