// Package orchestrerr defines the closed error-kind taxonomy of the core.
// internal/board translates transport and HTTP failures into
// BoardUnavailable or InvariantViolation, and internal/registry reports
// rejected status transitions and reused instance slots as
// InvariantViolation. The other four kinds are defined but no package
// produces them: internal/worktree, internal/process and internal/lifecycle
// return plain wrapped errors, and registry.ErrAlreadyAssigned and
// lifecycle.ErrNoSlotAvailable are plain sentinel errors.
package orchestrerr

import (
	"errors"
	"fmt"
)

// Kind identifies which of the six error categories an *Error belongs to.
type Kind string

const (
	// ConfigError: missing credentials, unreadable configuration, an
	// unresolvable repository. Fatal — the process exits 1.
	ConfigError Kind = "config_error"
	// BoardUnavailable: transient failure of the remote board. Recoverable —
	// retried on the next reconciliation cycle.
	BoardUnavailable Kind = "board_unavailable"
	// WorkerExitFailure: the Worker CLI exited with FAILED:<reason>, or died
	// twice without emitting a signal. Terminal for the assignment.
	WorkerExitFailure Kind = "worker_exit_failure"
	// WorkerBlocked: the Worker CLI exited with BLOCKED:<reason>.
	WorkerBlocked Kind = "worker_blocked"
	// WorktreeError: a filesystem failure while preparing or removing a
	// working tree.
	WorktreeError Kind = "worktree_error"
	// InvariantViolation: e.g. a duplicate live assignment for an issue
	// number, or a duplicate slot in use. Logged loudly; the offending
	// operation fails; the orchestrator keeps running.
	InvariantViolation Kind = "invariant_violation"
)

// Error wraps an underlying cause with one of the Kind values above.
type Error struct {
	kind   Kind
	reason string
	cause  error
}

// New constructs an *Error of the given kind with a reason string and no
// wrapped cause.
func New(kind Kind, reason string) *Error {
	return &Error{kind: kind, reason: reason}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{kind: kind, reason: reason, cause: cause}
}

// Kind reports which category this error belongs to.
func (e *Error) Kind() Kind {
	if e == nil {
		return ""
	}
	return e.kind
}

// Reason returns the human-readable explanation attached to the error.
func (e *Error) Reason() string {
	if e == nil {
		return ""
	}
	return e.reason
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.reason)
}

// Unwrap exposes the wrapped cause so errors.Is/errors.As keep working
// across this boundary.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, orchestrerr.New(orchestrerr.WorkerBlocked, "")).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.kind == other.kind
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.kind, true
	}
	return "", false
}
