// Package errs implements the error taxonomy of §7: every error raised
// inside the dispatch path is classified so callers can decide whether to
// retry, surface to the user, or abort the run.
package errs

import (
	"errors"
	"fmt"
)

// Class categorizes an error for retry and user-facing handling.
type Class string

const (
	// ClassUser indicates bad input from the user (malformed command,
	// invalid address, etc). Never retried; surfaced verbatim.
	ClassUser Class = "user"

	// ClassTransientExternal indicates a retryable failure in a dependency
	// (rate limit, timeout, 5xx).
	ClassTransientExternal Class = "transient_external"

	// ClassPermanentExternal indicates a non-retryable dependency failure
	// (auth failure, 404, billing).
	ClassPermanentExternal Class = "permanent_external"

	// ClassProtocol indicates a malformed wire payload (bad JSON envelope,
	// unparseable tool call).
	ClassProtocol Class = "protocol"

	// ClassIntegrity indicates an internal invariant was violated (metrics
	// mismatch, state machine regression). Always a bug.
	ClassIntegrity Class = "integrity"

	// ClassFatal indicates the process cannot continue (config load
	// failure, unrecoverable startup error).
	ClassFatal Class = "fatal"
)

// Retryable reports whether errors of this class may succeed on retry.
func (c Class) Retryable() bool {
	return c == ClassTransientExternal
}

// Error is the typed wrapper every taxonomy constructor returns.
type Error struct {
	Class   Class
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Class, e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(class Class, op string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Class: class, Op: op, Message: msg, Cause: cause}
}

// User wraps a user-input error.
func User(op string, cause error) *Error { return newError(ClassUser, op, cause) }

// UserMsg constructs a user-input error from a plain message.
func UserMsg(op, msg string) *Error { return newError(ClassUser, op, errors.New(msg)) }

// Transient wraps a retryable external failure.
func Transient(op string, cause error) *Error { return newError(ClassTransientExternal, op, cause) }

// Permanent wraps a non-retryable external failure.
func Permanent(op string, cause error) *Error { return newError(ClassPermanentExternal, op, cause) }

// Protocol wraps a malformed wire-payload error.
func Protocol(op string, cause error) *Error { return newError(ClassProtocol, op, cause) }

// Integrity wraps an internal invariant violation. Callers should treat this
// as a bug report, not a user-facing condition.
func Integrity(op string, cause error) *Error { return newError(ClassIntegrity, op, cause) }

// Fatal wraps an unrecoverable startup/process error.
func Fatal(op string, cause error) *Error { return newError(ClassFatal, op, cause) }

// ClassOf extracts the Class of err if it (or something it wraps) is an
// *Error. Unclassified errors report ClassPermanentExternal, the safe
// default for "don't retry, don't treat as a bug."
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassPermanentExternal
}

// IsRetryable reports whether err should be retried by the dispatcher's
// bounded retry loop.
func IsRetryable(err error) bool {
	return ClassOf(err).Retryable()
}

// Sentinel errors referenced across the dispatch path.
var (
	ErrMaxToolIterations = errors.New("max tool iterations exceeded")
	ErrNoProvider        = errors.New("no llm provider configured")
	ErrToolNotFound      = errors.New("tool not found")
	ErrSessionLocked     = errors.New("session is busy")
)
