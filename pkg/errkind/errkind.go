// Package errkind defines the engine's error taxonomy. Managers never
// panic or throw across their public boundary; failures surface as
// *Error values carrying a Kind, and callers dispatch on the kind, not
// on message text.
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure.
type Kind string

const (
	// Link means the peer transport is unreachable.
	Link Kind = "LINK"
	// Timeout means an exchange exceeded its deadline.
	Timeout Kind = "TIMEOUT"
	// RemoteRejected means the peer explicitly refused a mutation,
	// e.g. an unknown task id or a stale version.
	RemoteRejected Kind = "REMOTE_REJECTED"
	// InvalidState means an operation was attempted from a session or
	// connection state that forbids it.
	InvalidState Kind = "INVALID_STATE"
	// SensorUnavailable means the requested telemetry is not supported
	// on this hardware.
	SensorUnavailable Kind = "SENSOR_UNAVAILABLE"
	// Internal covers storage and other engine-local failures.
	Internal Kind = "INTERNAL"
)

// Retryable reports whether failures of this kind may succeed if the
// same operation is retried unchanged. Remote rejections and state
// violations will not.
func (k Kind) Retryable() bool {
	return k == Link || k == Timeout
}

// Error is a classified engine error.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "connectivity.ForceSync"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches against another *Error by kind, so
// errors.Is(err, &Error{Kind: Timeout}) works as a kind check.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err, walking the wrap chain. Unclassified
// errors report Internal; a nil error reports the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
