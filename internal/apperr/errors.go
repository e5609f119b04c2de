// Package apperr defines the coded errors shared by the pipeline and mapped to
// HTTP status codes at the API boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"           // 404
	CodeValidation         Code = "VALIDATION"          // 400
	CodeAccessDenied       Code = "ACCESS_DENIED"       // 403
	CodeConflict           Code = "CONFLICT"            // 409
	CodeExternalDependency Code = "EXTERNAL_DEPENDENCY" // 502
	CodeUnavailable        Code = "UNAVAILABLE"         // 503
	CodeInternal           Code = "INTERNAL"            // 500
)

// Error is a structured error with code, status and optional details.
type Error struct {
	Code    Code
	Status  int
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(kind string, id any) *Error {
	return &Error{
		Code:    CodeNotFound,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("%s not found: %v", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Status: http.StatusBadRequest, Message: msg}
}

func AccessDenied(msg string) *Error {
	return &Error{Code: CodeAccessDenied, Status: http.StatusForbidden, Message: msg}
}

func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Status: http.StatusConflict, Message: msg}
}

func ExternalDependency(service string, err error) *Error {
	return &Error{
		Code:    CodeExternalDependency,
		Status:  http.StatusBadGateway,
		Message: fmt.Sprintf("%s unavailable", service),
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

func Unavailable(msg string) *Error {
	return &Error{Code: CodeUnavailable, Status: http.StatusServiceUnavailable, Message: msg}
}

func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "internal error", Err: err}
}

// Is reports whether err, or anything it wraps, is an *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}
