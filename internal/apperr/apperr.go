// Package apperr defines headspace's uniform error-kind taxonomy
// (spec.md §7), carried from any component up to the HTTP boundary
// where a single gin middleware maps it to status code and JSON body.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code enumerates the error kinds spec.md §7 requires every component to
// propagate uniformly.
type Code string

const (
	CodeValidation          Code = "validation"
	CodeUnregisteredProject Code = "unregistered_project"
	CodeNotFound            Code = "not_found"
	CodeWrongState          Code = "wrong_state"
	CodePaneUnavailable     Code = "pane_unavailable"
	CodeSendFailed          Code = "send_failed"
	CodeInferenceUnavail    Code = "inference_unavailable"
	CodeConflict            Code = "conflict"
	CodeServerError         Code = "server_error"
)

// Error is the uniform shape every component returns for a failure the
// caller must classify. It implements the error interface so it composes
// with errors.Is/errors.As and fmt.Errorf("%w", ...).
type Error struct {
	Code       Code
	Message    string
	Retryable  bool
	RetryAfter *time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// As reports whether err (or something it wraps) is an *Error.
func As(err error) (*Error, bool) {
	var appErr *Error
	ok := errors.As(err, &appErr)
	return appErr, ok
}

func newErr(code Code, retryable bool, msg string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(msg, args...), Retryable: retryable}
}

func Validation(msg string, args ...any) *Error {
	return newErr(CodeValidation, false, msg, args...)
}

func UnregisteredProject(msg string, args ...any) *Error {
	return newErr(CodeUnregisteredProject, false, msg, args...)
}

func NotFound(msg string, args ...any) *Error {
	return newErr(CodeNotFound, false, msg, args...)
}

func WrongState(msg string, args ...any) *Error {
	return newErr(CodeWrongState, false, msg, args...)
}

func PaneUnavailable(msg string, args ...any) *Error {
	return newErr(CodePaneUnavailable, true, msg, args...)
}

func SendFailed(msg string, args ...any) *Error {
	return newErr(CodeSendFailed, true, msg, args...)
}

func InferenceUnavailable(msg string, args ...any) *Error {
	return newErr(CodeInferenceUnavail, true, msg, args...)
}

func Conflict(msg string, args ...any) *Error {
	return newErr(CodeConflict, false, msg, args...)
}

func ServerError(cause error) *Error {
	return &Error{Code: CodeServerError, Message: "internal error", Retryable: true, cause: cause}
}

// WithRetryAfter attaches a Retry-After hint and returns the same *Error
// for chaining at the construction site.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = &d
	return e
}

// HTTPStatus maps a Code to the status spec.md §7's table assigns it.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnregisteredProject, CodeNotFound:
		return http.StatusNotFound
	case CodeWrongState:
		return http.StatusConflict
	case CodePaneUnavailable, CodeInferenceUnavail:
		return http.StatusServiceUnavailable
	case CodeSendFailed:
		return http.StatusBadGateway
	case CodeConflict:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON shape returned on the wire for every classified error.
type Body struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	RetryAfter *int   `json:"retry_after,omitempty"` // seconds
}

// ToBody renders e as the wire Body, or wraps an unclassified error as
// server_error.
func ToBody(err error) (int, Body) {
	appErr, ok := As(err)
	if !ok {
		appErr = ServerError(err)
	}
	body := Body{Code: appErr.Code, Message: appErr.Message, Retryable: appErr.Retryable}
	if appErr.RetryAfter != nil {
		secs := int(appErr.RetryAfter.Seconds())
		body.RetryAfter = &secs
	}
	return appErr.Code.HTTPStatus(), body
}
