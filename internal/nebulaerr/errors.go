// Package nebulaerr defines the runtime's error taxonomy.
//
// Every failure that can cross a stage boundary is classified into one
// of a small set of codes so that the lifecycle manager can apply a
// uniform policy (retry, isolate, fail the query, or terminate) without
// inspecting error strings.
package nebulaerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code classifies a failure for lifecycle policy purposes.
type Code int

const (
	// Internal marks an invariant violation. Always fatal.
	Internal Code = iota
	// ResourceExhausted marks pool, page, or log exhaustion.
	ResourceExhausted
	// Protocol marks a malformed header, duplicate sequence, or
	// non-monotone watermark from a source.
	Protocol
	// KernelFailure marks a compiled stage kernel returning Error.
	KernelFailure
	// Cancelled marks a task that observed a stop flag in flight.
	Cancelled
)

func (c Code) String() string {
	switch c {
	case Internal:
		return "internal"
	case ResourceExhausted:
		return "resource_exhausted"
	case Protocol:
		return "protocol"
	case KernelFailure:
		return "kernel_failure"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the runtime's wrapped error type. It carries a Code so
// callers can branch on classification without string matching, and
// wraps the underlying cause with a stack trace via pkg/errors.
type Error struct {
	Code  Code
	Scope string // e.g. "watermark", "slicestore", "join-probe"
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.Scope, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Scope, e.Code, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a classified error with a stack trace attached.
func New(code Code, scope, msg string) *Error {
	return &Error{Code: code, Scope: scope, cause: errors.New(msg)}
}

// Wrap classifies an existing error, attaching a stack trace if the
// error does not already carry one.
func Wrap(code Code, scope string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Scope: scope, cause: errors.WithStack(err)}
}

// Fatal reports whether code always fails the owning query, per the
// policy table in the error handling design.
func (c Code) Fatal() bool {
	switch c {
	case Internal, KernelFailure:
		return true
	default:
		return false
	}
}

// IsCode reports whether err (or something it wraps) carries code.
func IsCode(err error, code Code) bool {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Code == code
	}
	return false
}
