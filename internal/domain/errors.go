package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every *Error unwraps to exactly one of these.
var (
	ErrValidation = errors.New("validation failed")
	ErrAuth       = errors.New("not authenticated")
	ErrBusiness   = errors.New("request rejected")
	ErrTransient  = errors.New("temporarily unavailable")
)

// Sentinels for specific conditions
var (
	ErrLoginRequired  = errors.New("login required")
	ErrSessionExpired = errors.New("session expired")
)

// User-facing messages for conditions raised on the client
const (
	MsgNetwork          = "Unable to reach the store. Check your connection and try again."
	MsgSessionExpired   = "Your session has expired. Please log in again."
	MsgLoginForPromo    = "Please log in to apply promotion codes"
	MsgLoginForCheckout = "Please log in to check out"
)

// Error carries a kind, a message fit for display and the HTTP status when
// one was received.
type Error struct {
	Kind    error
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause to errors.Is.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewValidationError reports bad input detected before any network call.
func NewValidationError(msg string) *Error {
	return &Error{Kind: ErrValidation, Message: msg}
}

// NewAuthError reports a missing or rejected identity.
func NewAuthError(msg string, status int, cause error) *Error {
	return &Error{Kind: ErrAuth, Message: msg, Status: status, Err: cause}
}

// NewBusinessError reports a request the server understood and refused.
func NewBusinessError(msg string, status int) *Error {
	return &Error{Kind: ErrBusiness, Message: msg, Status: status}
}

// NewTransientError reports a failure that may succeed when retried.
func NewTransientError(msg string, status int, cause error) *Error {
	return &Error{Kind: ErrTransient, Message: msg, Status: status, Err: cause}
}

// LoginRequired is returned by operations that need a signed-in user.
func LoginRequired(msg string) *Error {
	return &Error{Kind: ErrAuth, Message: msg, Err: ErrLoginRequired}
}

// UserMessage returns the display message of err, or fallback when err
// carries none.
func UserMessage(err error, fallback string) string {
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return fallback
}

// WithFallback returns err with its message replaced by fallback when the
// server supplied none. Non-domain errors are wrapped as transient.
func WithFallback(err error, fallback string) error {
	if err == nil {
		return nil
	}
	var de *Error
	if !errors.As(err, &de) {
		return NewTransientError(fallback, 0, err)
	}
	if de.Message != "" {
		return err
	}
	c := *de
	c.Message = fallback
	return &c
}
