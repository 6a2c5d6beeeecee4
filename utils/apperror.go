package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the booking and payment services.
type ErrorKind string

const (
	KindNotFound        ErrorKind = "not_found"
	KindForbidden       ErrorKind = "forbidden"
	KindConflict        ErrorKind = "conflict"
	KindInvalidState    ErrorKind = "invalid_state"
	KindUpstreamFailure ErrorKind = "upstream_failure"
	KindValidation      ErrorKind = "validation_error"
)

// AppError carries a taxonomy kind and a human-readable reason.
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newAppError(kind ErrorKind, err error, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...any) error {
	return newAppError(KindNotFound, nil, format, args...)
}

func Forbidden(format string, args ...any) error {
	return newAppError(KindForbidden, nil, format, args...)
}

func Conflict(format string, args ...any) error {
	return newAppError(KindConflict, nil, format, args...)
}

func InvalidState(format string, args ...any) error {
	return newAppError(KindInvalidState, nil, format, args...)
}

func Validation(format string, args ...any) error {
	return newAppError(KindValidation, nil, format, args...)
}

// Upstream wraps a store or gateway failure.
func Upstream(err error, format string, args ...any) error {
	return newAppError(KindUpstreamFailure, err, format, args...)
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether err is an AppError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// AsUpstream keeps AppErrors intact and wraps anything else as an upstream failure.
func AsUpstream(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	return Upstream(err, format, args...)
}
