// Package par3err implements the five-way error taxonomy and external
// return codes shared across create/verify/repair. It is a
// leaf package with no internal dependencies so every other package can
// import it without risk of a cycle.
package par3err

import "fmt"

// Kind classifies an error into one of five categories.
// Propagation differs by kind: scanning boundaries recover locally
// from Integrity errors (drop the packet, skip the file); repair boundaries
// surface every kind because silently producing wrong output would be
// catastrophic.
type Kind int

const (
	// Logic indicates an invariant violation: a bug or adversarial input.
	// Examples: declared packet length disagrees with measured length,
	// chunk sum disagrees with file size, slice tail offset exceeds block
	// size.
	Logic Kind = iota + 1

	// Insufficient indicates there isn't enough data to proceed: no Start
	// Packet, no Root Packet, or an underdetermined repair matrix.
	// Recoverable only by supplying more PAR files.
	Insufficient

	// Integrity indicates a fingerprint or parity mismatch: a packet's
	// BLAKE3 fingerprint disagrees, a block's parity word disagrees after
	// decode, or a file's fingerprint disagrees after repair.
	Integrity

	// Resource indicates allocator failure, a path too long, or a numeric
	// field overflow.
	Resource

	// IO indicates an open/read/write/seek/close failure from the host.
	IO
)

// String returns a human-readable name for the error kind.
func (k Kind) String() string {
	switch k {
	case Logic:
		return "Logic"
	case Insufficient:
		return "Insufficient"
	case Integrity:
		return "Integrity"
	case Resource:
		return "Resource"
	case IO:
		return "IO"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Code is one of the external return codes used at process-exit and
// CLI-result boundaries.
type Code int

const (
	CodeSuccess              Code = 0
	CodeRepairPossible       Code = 1
	CodeRepairNotPossible    Code = 2
	CodeInvalidCommand       Code = 3
	CodeInsufficientMetadata Code = 4
	CodeRepairFailed         Code = 5 // reconstruction parity mismatch
	CodeFileIOError          Code = 6
	CodeLogicError           Code = 7
	CodeOutOfMemory          Code = 8
)

// Error is a par3 error: a Kind, an operation-scoped message, and an
// optional path and wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Path    string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path: %s)", msg, e.Path)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithPath attaches a path to an Error, returning e for chaining.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// NewLogicError reports an invariant violation.
func NewLogicError(format string, args ...any) *Error {
	return New(Logic, fmt.Sprintf(format, args...))
}

// NewInsufficientError reports missing packets or an underdetermined
// repair matrix.
func NewInsufficientError(format string, args ...any) *Error {
	return New(Insufficient, fmt.Sprintf(format, args...))
}

// NewIntegrityError reports a fingerprint or parity mismatch.
func NewIntegrityError(format string, args ...any) *Error {
	return New(Integrity, fmt.Sprintf(format, args...))
}

// NewResourceError reports allocator failure or field overflow.
func NewResourceError(format string, args ...any) *Error {
	return New(Resource, fmt.Sprintf(format, args...))
}

// WrapIOError wraps a host I/O failure against path.
func WrapIOError(path string, cause error) *Error {
	return Wrap(IO, "I/O failure", cause).WithPath(path)
}

// Coded carries an explicit external return code for outcomes that are not
// failures in the five-way taxonomy: "repair possible" and "repair not
// possible" are verdicts a verify or repair run reports, but they still
// exit nonzero so scripts can branch on them.
type Coded struct {
	C       Code
	Message string
}

// Error implements the error interface.
func (e *Coded) Error() string { return e.Message }

// NewCoded builds a Coded verdict.
func NewCoded(code Code, format string, args ...any) *Coded {
	return &Coded{C: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the explicit Code of err if it is (or wraps) a *Coded.
func CodeOf(err error) (Code, bool) {
	for err != nil {
		if ce, ok := err.(*Coded); ok {
			return ce.C, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0, false
		}
		err = u.Unwrap()
	}
	return 0, false
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if as(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// as is a tiny local errors.As to avoid importing errors just for this.
func as(err error, target **Error) bool {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ReturnCode maps an error (via its Kind) to its external return code.
// A nil error maps to CodeSuccess.
func ReturnCode(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if code, ok := CodeOf(err); ok {
		return code
	}
	kind, ok := KindOf(err)
	if !ok {
		return CodeLogicError
	}
	switch kind {
	case Logic:
		return CodeLogicError
	case Insufficient:
		return CodeInsufficientMetadata
	case Integrity:
		return CodeRepairFailed
	case Resource:
		return CodeOutOfMemory
	case IO:
		return CodeFileIOError
	default:
		return CodeLogicError
	}
}
