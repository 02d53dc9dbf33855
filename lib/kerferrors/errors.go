// Package kerferrors defines the single error taxonomy shared by the FDT
// codec, resource allocator, validator, and transactional runtime.
package kerferrors

import (
	"errors"
	"fmt"
)

// Kind identifies which of the handful of ways a kerf operation can fail.
type Kind int

const (
	// KindValidation is an invariant violation in a proposed state.
	KindValidation Kind = iota
	// KindParse is a malformed FDT blob or textual input.
	KindParse
	// KindResourceConflict is two allocations colliding (CPU overlap,
	// memory overlap, duplicate ID, reference to an unavailable VF).
	KindResourceConflict
	// KindResourceExhaustion is no CPUs, no memory gap, or no free instance ID.
	KindResourceExhaustion
	// KindInvalidReference is a device/VF/namespace not in the inventory.
	KindInvalidReference
	// KindKernelInterface is a missing file under /sys/fs/multikernel/ or a
	// failed syscall; it carries the underlying OS error.
	KindKernelInterface
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindParse:
		return "parse"
	case KindResourceConflict:
		return "resource_conflict"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	case KindInvalidReference:
		return "invalid_reference"
	case KindKernelInterface:
		return "kernel_interface"
	default:
		return "unknown"
	}
}

// ExitCode maps a Kind to the operator-facing exit code table in the
// external interface spec: 1 validation/runtime error, 3 file-I/O error,
// 4 FDT parse error.
func (k Kind) ExitCode() int {
	switch k {
	case KindParse:
		return 4
	case KindKernelInterface:
		return 3
	default:
		return 1
	}
}

// Error is the single error sum type used across all four subsystems.
type Error struct {
	Kind Kind
	// Op names the operation that failed (e.g. "create", "update", "apply").
	Op string
	// Msg is a human-readable description.
	Msg string
	// Entity is the name of the offending entity, if any (instance name,
	// device name, ...).
	Entity string
	// Conflict is the name of the conflicting entity, if any.
	Conflict string
	// Suggestion is a concrete proposed fix, if one was computed.
	Suggestion string
	// Err wraps the underlying error (an OS error for KindKernelInterface,
	// a ParseError detail for KindParse, etc).
	Err error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Entity != "" {
		msg = fmt.Sprintf("%s: %s", e.Entity, msg)
	}
	if e.Conflict != "" {
		msg = fmt.Sprintf("%s (conflicts with %s)", msg, e.Conflict)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s; suggestion: %s", msg, e.Suggestion)
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExitCode returns the operator-facing exit code for this error.
func (e *Error) ExitCode() int {
	return e.Kind.ExitCode()
}

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithOp returns a copy of e with Op set, used to attach the operation
// name when surfacing an error from a deeper subsystem.
func (e *Error) WithOp(op string) *Error {
	cp := *e
	cp.Op = op
	return &cp
}

// Is reports whether target is a *Error with the same Kind, so callers can
// do errors.Is(err, kerferrors.New(kerferrors.KindResourceExhaustion, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
