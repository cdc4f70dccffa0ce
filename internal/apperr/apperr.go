package apperr

import (
	"errors"
	"net/http"
)

// Kind is a stable, caller-visible error category.
type Kind string

// Kind constants.
const (
	KindNotFound           Kind = "not_found"
	KindForbidden          Kind = "forbidden"
	KindInsufficientFunds  Kind = "insufficient_funds"
	KindServiceUnavailable Kind = "service_unavailable"
	KindInternal           Kind = "internal_error"
	KindInvalidArgument    Kind = "invalid_argument"
)

// Sentinel errors, one per kind, for use with errors.Is.
var (
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden          = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrInsufficientFunds  = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable, Message: "service unavailable"}
	ErrInternal           = &Error{Kind: KindInternal, Message: "internal error"}
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
)

// Error carries a kind, a human-readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New builds an Error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != "" {
		return appErr.Kind
	}
	return KindInternal
}

// MessageOf returns the outermost *Error message, hiding causes of internal errors.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return ErrInternal.Message
}

// HTTPStatus maps a kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInsufficientFunds:
		return http.StatusPaymentRequired
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
