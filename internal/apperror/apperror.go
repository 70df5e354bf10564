// Package apperror defines the error taxonomy shared by every component and
// the boundary translation into wire-level frames and WebSocket close codes.
// Interior packages return plain *Error values; only the broker converts
// them to frames or close codes.
package apperror

import (
	"errors"
	"fmt"
)

type Code string

const (
	AuthFailed       Code = "AUTH_FAILED"
	SessionNotFound  Code = "SESSION_NOT_FOUND"
	PathError        Code = "PATH_ERROR"
	WorkspaceError   Code = "WORKSPACE_ERROR"
	PTYError         Code = "PTY_ERROR"
	ExecutionError   Code = "EXECUTION_ERROR"
	ExecutionTimeout Code = "EXECUTION_TIMEOUT"
	Backpressure     Code = "BACKPRESSURE"
	IdleTimeout      Code = "IDLE_TIMEOUT"
	BadFrame         Code = "BAD_FRAME"
	Internal         Code = "INTERNAL_ERROR"
)

// Error wraps a Code with a human-readable message and, optionally, the
// underlying cause. It implements error and Unwrap so it composes with
// fmt.Errorf("%w", ...) chains used everywhere else in this codebase.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error,
// defaulting to Internal for anything else.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return Internal
}

// Fatal reports whether this error kind should close the connection rather
// than be surfaced as an in-band error frame, per the propagation policy.
func (c Code) Fatal() bool {
	switch c {
	case AuthFailed, Backpressure, IdleTimeout:
		return true
	default:
		return false
	}
}

// CloseCode maps a fatal Code to its WebSocket close code.
func (c Code) CloseCode() int {
	switch c {
	case AuthFailed:
		return 4001
	case SessionNotFound:
		return 4002
	case Backpressure:
		return 4003
	case IdleTimeout:
		return 4004
	default:
		return 4009
	}
}
