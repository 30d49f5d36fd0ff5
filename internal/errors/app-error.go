package app_error

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotAuthorized is a local permission deny. Nothing was sent.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrRemoteDenied means the action passed the local gate but the
	// server refused it; local permission state was stale.
	ErrRemoteDenied = errors.New("denied by remote")
	ErrTransient    = errors.New("transient bridge failure")
	ErrNotFound     = errors.New("not found")
	ErrInvalid      = errors.New("invalid request")
	// ErrUnresolvable marks a reply whose target cannot be loaded. Callers
	// render it as unavailable.
	ErrUnresolvable = errors.New("reply target unavailable")
)

type AppError struct {
	Code    int    `json:"-"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Kind    error  `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// KindName is the sentinel text of the error kind, or "" for a plain error.
func (e *AppError) KindName() string {
	if e.Kind == nil {
		return ""
	}
	return e.Kind.Error()
}

func (e *AppError) JSON(w http.ResponseWriter) error {
	return json.NewEncoder(w).Encode(e)
}

func NewAppError(code int, msg, field string) *AppError {
	return &AppError{
		Code:    code,
		Message: msg,
		Field:   field,
	}
}

func NotAuthorized(action, roomID string) *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Message: fmt.Sprintf("not allowed to %s in room %s", action, roomID),
		Field:   "permission",
		Kind:    ErrNotAuthorized,
	}
}

func RemoteDenied(op string, cause error) *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Message: fmt.Sprintf("%s rejected by server", op),
		Field:   "remote",
		Kind:    ErrRemoteDenied,
		Cause:   cause,
	}
}

func Transient(op string, cause error) *AppError {
	return &AppError{
		Code:    http.StatusServiceUnavailable,
		Message: fmt.Sprintf("%s failed, try again", op),
		Field:   "bridge",
		Kind:    ErrTransient,
		Cause:   cause,
	}
}

func NotFound(what, field string) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Message: fmt.Sprintf("%s not found", what),
		Field:   field,
		Kind:    ErrNotFound,
	}
}

func Invalid(msg, field string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Message: msg,
		Field:   field,
		Kind:    ErrInvalid,
	}
}

func Unresolvable(eventID string, cause error) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Message: fmt.Sprintf("reply target %s unavailable", eventID),
		Field:   "reply",
		Kind:    ErrUnresolvable,
		Cause:   cause,
	}
}

// From turns any error into an AppError, keeping one that already is.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{
		Code:    http.StatusInternalServerError,
		Message: "unexpected error",
		Field:   "internal",
		Cause:   err,
	}
}
