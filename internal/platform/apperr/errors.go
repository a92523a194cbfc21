// Package apperr defines the error taxonomy shared by services and the HTTP layer.
// Services return *Error values (or wrap the Kind sentinels); handlers map Kind to a status code.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind sentinels. Match with errors.Is.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrInvalidOTC         = errors.New("invalid one-time code")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrGone               = errors.New("gone")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrRateLimited        = errors.New("rate limited")
	ErrValidation         = errors.New("validation failed")
)

// Error carries a kind, a caller-facing message, and side-effect flags.
type Error struct {
	Kind    error
	Message string
	// SignedOut is true when the failure also terminated every session of the caller.
	SignedOut bool
	// RetryAfter is set for ErrRateLimited.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

// New returns an *Error of the given kind.
func New(kind error, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a format string.
func Newf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// SignedOut returns an *Error that reports the caller's sessions were terminated.
func SignedOut(kind error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, SignedOut: true}
}

// RateLimited returns an ErrRateLimited error carrying the remaining cooldown.
func RateLimited(msg string, retryAfter time.Duration) *Error {
	return &Error{Kind: ErrRateLimited, Message: msg, RetryAfter: retryAfter}
}

// As extracts an *Error from err. Bare sentinels are promoted to an *Error with no message.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return &Error{Kind: k}, true
		}
	}
	return nil, false
}

// IsSignedOut reports whether err terminated the caller's sessions.
func IsSignedOut(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.SignedOut
}

var kinds = []error{
	ErrUnauthorized, ErrForbidden, ErrInvalidCredential, ErrInvalidOTC, ErrNotFound, ErrConflict,
	ErrGone, ErrInvalidState, ErrInvariantViolation, ErrRateLimited, ErrValidation,
}
