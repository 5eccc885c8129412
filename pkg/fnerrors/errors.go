// Package fnerrors classifies worker errors so callers can decide what a
// failure kills: a single invocation, a single function, or the whole
// session.
package fnerrors

import (
	"errors"
	"fmt"
)

// Class is the error classification.
type Class string

const (
	// ClassProtocol indicates a malformed or out-of-sequence message.
	// Fatal: the channel's framing contract is broken and the session must
	// close.
	ClassProtocol Class = "protocol"

	// ClassLoad indicates a bad function descriptor. Reported per function;
	// the session continues.
	ClassLoad Class = "load"

	// ClassDecode indicates a binding conversion failure. Fails that
	// invocation only.
	ClassDecode Class = "decode"

	// ClassHandler indicates user code failed. Fails that invocation only.
	ClassHandler Class = "handler"

	// ClassCancelled indicates cooperative cancellation was observed.
	// Fails that invocation only, tagged distinctly from ordinary failure.
	ClassCancelled Class = "cancelled"

	// ClassDivergence indicates orchestrator logic did not match recorded
	// history. Terminal orchestrator failure; never retried.
	ClassDivergence Class = "divergence"
)

// WorkerError is a classified error with context.
type WorkerError struct {
	// Class is the error classification.
	Class Class `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Function is the function id involved, if applicable.
	Function string `json:"function,omitempty"`

	// Invocation is the invocation id involved, if applicable.
	Invocation string `json:"invocation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *WorkerError) Error() string {
	switch {
	case e.Invocation != "":
		return fmt.Sprintf("[%s] %s (invocation=%s)%s", e.Class, e.Message, e.Invocation, e.unwrapSuffix())
	case e.Function != "":
		return fmt.Sprintf("[%s] %s (function=%s)%s", e.Class, e.Message, e.Function, e.unwrapSuffix())
	default:
		return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *WorkerError) Unwrap() error {
	return e.Err
}

func (e *WorkerError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality for errors.Is.
func (e *WorkerError) Is(target error) bool {
	t, ok := target.(*WorkerError)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// NewProtocolError creates a fatal protocol error.
func NewProtocolError(message string, err error) *WorkerError {
	return &WorkerError{Class: ClassProtocol, Message: message, Err: err}
}

// NewLoadError creates a per-function load error.
func NewLoadError(message string, err error) *WorkerError {
	return &WorkerError{Class: ClassLoad, Message: message, Err: err}
}

// NewDecodeError creates a binding conversion error.
func NewDecodeError(message string, err error) *WorkerError {
	return &WorkerError{Class: ClassDecode, Message: message, Err: err}
}

// NewHandlerError creates a user-code failure error.
func NewHandlerError(message string, err error) *WorkerError {
	return &WorkerError{Class: ClassHandler, Message: message, Err: err}
}

// NewCancelledError creates a cooperative-cancellation error.
func NewCancelledError(message string) *WorkerError {
	return &WorkerError{Class: ClassCancelled, Message: message}
}

// NewDivergenceError creates a replay divergence error.
func NewDivergenceError(message string) *WorkerError {
	return &WorkerError{Class: ClassDivergence, Message: message}
}

// WithCode adds an error code.
func (e *WorkerError) WithCode(code string) *WorkerError {
	e.Code = code
	return e
}

// WithFunction adds function context.
func (e *WorkerError) WithFunction(id string) *WorkerError {
	e.Function = id
	return e
}

// WithInvocation adds invocation context.
func (e *WorkerError) WithInvocation(id string) *WorkerError {
	e.Invocation = id
	return e
}

// ClassOf returns the classification of err, or "" if err is not a
// WorkerError.
func ClassOf(err error) Class {
	var e *WorkerError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsFatal reports whether err must terminate the session. Only protocol
// errors are fatal; everything below session level stays local to one
// function or invocation.
func IsFatal(err error) bool {
	return ClassOf(err) == ClassProtocol
}

// IsCancelled reports whether err is a cooperative cancellation.
func IsCancelled(err error) bool {
	return ClassOf(err) == ClassCancelled
}

// IsDivergence reports whether err is a replay divergence.
func IsDivergence(err error) bool {
	return ClassOf(err) == ClassDivergence
}

// Common error codes.
const (
	CodeDuplicateFunction  = "DUPLICATE_FUNCTION"
	CodeFunctionNotFound   = "FUNCTION_NOT_FOUND"
	CodeRegistrySealed     = "REGISTRY_SEALED"
	CodeUnsupportedBinding = "UNSUPPORTED_BINDING"
	CodeTypeMismatch       = "TYPE_MISMATCH"
	CodeMalformedPayload   = "MALFORMED_PAYLOAD"
	CodeVersionMismatch    = "VERSION_MISMATCH"
	CodeHandlerPanic       = "HANDLER_PANIC"
)
