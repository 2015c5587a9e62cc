// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-qos.

package api

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeOpenFailure
	ErrCodeAttachFailure
	ErrCodeClosed
	ErrCodeInternal
)

// String returns the stable name used in logs and metric labels.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeOpenFailure:
		return "open_failure"
	case ErrCodeAttachFailure:
		return "attach_failure"
	case ErrCodeClosed:
		return "closed"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrOpenFailure   = &Error{Code: ErrCodeOpenFailure, Message: "qos node open failure"}
	ErrAttachFailure = &Error{Code: ErrCodeAttachFailure, Message: "lease attachment failure"}
	ErrEngineClosed  = &Error{Code: ErrCodeClosed, Message: "engine is closed"}
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if len(e.Context) > 0 {
		msg = fmt.Sprintf("%s (context: %+v)", msg, e.Context)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause, usually a unix.Errno.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Wrap attaches the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// CodeOf extracts the ErrorCode of err, or ErrCodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}
