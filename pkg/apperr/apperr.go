// Package apperr classifies failures into the categories the HTTP layer
// reports to callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of an application error.
type Kind int

const (
	Internal Kind = iota
	NotFound
	Conflict
	Precondition
	Validation
	Upstream
	Unauthorized
	Forbidden
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Precondition:
		return "precondition_failed"
	case Validation:
		return "validation"
	case Upstream:
		return "upstream"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Status maps a kind to the HTTP status used in responses.
func (k Kind) Status() int {
	switch k {
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Precondition:
		return http.StatusPreconditionFailed
	case Validation:
		return http.StatusBadRequest
	case Upstream:
		return http.StatusBadGateway
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a user-facing reason plus an optional cause.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
	// Fields holds per-field messages for validation failures.
	Fields map[string]string
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Reason {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error     { return newf(NotFound, format, args...) }
func Conflictf(format string, args ...any) *Error     { return newf(Conflict, format, args...) }
func Preconditionf(format string, args ...any) *Error { return newf(Precondition, format, args...) }
func Validationf(format string, args ...any) *Error   { return newf(Validation, format, args...) }
func Unauthorizedf(format string, args ...any) *Error { return newf(Unauthorized, format, args...) }
func Forbiddenf(format string, args ...any) *Error    { return newf(Forbidden, format, args...) }

// Wrap attaches kind and reason to err. The sentinel stays reachable via errors.Is.
func Wrap(kind Kind, err error, reason string) *Error {
	if reason == "" && err != nil {
		reason = err.Error()
	}
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the kind of err, or Internal when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Reason returns the user-facing reason for err. Unclassified errors get a
// generic message so internals never leak to clients.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return "internal server error"
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
