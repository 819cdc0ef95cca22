package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrBackend classifies every failure reported by a proof backend.
	ErrBackend = errors.New("proof backend failure")

	// ErrTargetUnavailable is returned when no backend is configured for a target.
	ErrTargetUnavailable = errors.New("backend target not configured")

	// ErrClosed is returned by dispatches after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// BackendError is a failure reported by a backend, passed through verbatim.
type BackendError struct {
	Backend string // Backend is the name of the failing backend
	Op      string // Op is the failing operation: connect, setup, execute or prove
	Err     error  // Err is the backend's error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s failed:\n%v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the backend's error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is matches ErrBackend.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackend
}
