package terminate

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	// ErrSystemProcessProtected rejects reserved kernel/system pids before any OS call.
	ErrSystemProcessProtected = errors.New("system process is protected")
	// ErrAllMethodsExhausted means every level ran and the process survived.
	ErrAllMethodsExhausted = errors.New("all termination methods exhausted")
	// ErrUnsupported is returned for privileged-only operations on platforms without elevation.
	ErrUnsupported = errors.New("operation not supported on this platform")
	// ErrInvalidRequest is returned for malformed requests such as negative pids.
	ErrInvalidRequest = errors.New("invalid termination request")
)

// Error carries the target of a failed termination.
type Error struct {
	PID  int
	Port *int
	Kind error
}

func (e *Error) Error() string {
	target := fmt.Sprintf("process %d", e.PID)
	if e.Port != nil {
		target = fmt.Sprintf("port %d of process %d", *e.Port, e.PID)
	}
	switch {
	case errors.Is(e.Kind, ErrSystemProcessProtected):
		return fmt.Sprintf("cannot terminate %s: %v", target, e.Kind)
	case errors.Is(e.Kind, ErrAllMethodsExhausted):
		return fmt.Sprintf("failed to terminate %s: %v", target, e.Kind)
	default:
		return fmt.Sprintf("%s: %v", target, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Kind }
