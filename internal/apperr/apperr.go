// Package apperr defines the failure kinds shared by the domain services and
// the ServiceError type that carries them to the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Failure kinds. Every ServiceError wraps exactly one of these.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInviteExpired    = errors.New("invite expired")
	ErrInviteExhausted  = errors.New("invite exhausted")
	ErrStore            = errors.New("store failure")
)

// ErrInviteNotFound is the NotFound kind specialised for invite lookups.
var ErrInviteNotFound = fmt.Errorf("invite %w", ErrNotFound)

var kinds = []error{
	ErrNotAuthenticated,
	ErrValidation,
	ErrNotFound,
	ErrForbidden,
	ErrInviteExpired,
	ErrInviteExhausted,
	ErrStore,
}

// ServiceError is returned by every service operation that fails.
type ServiceError struct {
	code    string
	kind    error
	message string
	err     error
}

// New builds a ServiceError with a dotted code of the form operation.reason.
// An empty message falls back to the cause (for store failures) or the kind.
func New(operation, reason string, kind error, message string, cause error) error {
	if kind == nil {
		kind = ErrStore
	}
	return &ServiceError{
		code:    fmt.Sprintf("%s.%s", operation, reason),
		kind:    kind,
		message: message,
		err:     cause,
	}
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %v", e.code, e.kind)
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *ServiceError) Unwrap() []error {
	if e.err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.err}
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the failure kind sentinel.
func (e *ServiceError) Kind() error {
	return e.kind
}

// Message returns the text shown to the end user.
func (e *ServiceError) Message() string {
	if e.message != "" {
		return e.message
	}
	if errors.Is(e.kind, ErrStore) && e.err != nil {
		return e.err.Error()
	}
	return e.kind.Error()
}

// KindOf reports the failure kind of err. Errors that carry no kind are store failures.
func KindOf(err error) error {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.kind
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrStore
}

// MessageOf returns the user-facing message for err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Message()
	}
	return err.Error()
}

// CodeOf returns the operation.reason code for err, or an empty string.
func CodeOf(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.code
	}
	return ""
}
