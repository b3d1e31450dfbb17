// Package apperr defines the error taxonomy shared by services and HTTP handlers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable taxonomy tag of an error.
type Kind string

const (
	KindNotFoundOrForbidden Kind = "not_found"
	KindInsufficientRole    Kind = "insufficient_role"
	KindConfiguration       Kind = "configuration_error"
	KindNotConnected        Kind = "not_connected"
	KindMissingRefreshToken Kind = "missing_refresh_token"
	KindProviderAuth        Kind = "provider_auth_error"
	KindProviderAPI         Kind = "provider_api_error"
	KindValidation          Kind = "validation_error"
)

// Error carries a taxonomy kind, a human-readable message and optional provider detail.
type Error struct {
	Kind    Kind
	Message string
	// Detail holds raw provider error text for diagnostics. Never shown to end users.
	Detail string
	// Status is the provider HTTP status for provider errors, 0 otherwise.
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrNotFoundOrForbidden = &Error{Kind: KindNotFoundOrForbidden}
	ErrInsufficientRole    = &Error{Kind: KindInsufficientRole}
	ErrConfiguration       = &Error{Kind: KindConfiguration}
	ErrNotConnected        = &Error{Kind: KindNotConnected}
	ErrMissingRefreshToken = &Error{Kind: KindMissingRefreshToken}
	ErrProviderAuth        = &Error{Kind: KindProviderAuth}
	ErrProviderAPI         = &Error{Kind: KindProviderAPI}
	ErrValidation          = &Error{Kind: KindValidation}
)

// NotFoundOrForbidden hides whether the entity exists from principals without access.
func NotFoundOrForbidden() error {
	return &Error{Kind: KindNotFoundOrForbidden, Message: "not found"}
}

func InsufficientRole(msg string) error {
	return &Error{Kind: KindInsufficientRole, Message: msg}
}

func Configuration(msg string, err error) error {
	return &Error{Kind: KindConfiguration, Message: msg, Err: err}
}

func NotConnected() error {
	return &Error{Kind: KindNotConnected, Message: "calendar is not connected; reconnect required"}
}

func MissingRefreshToken() error {
	return &Error{Kind: KindMissingRefreshToken, Message: "no refresh token stored; reconnect required"}
}

func ProviderAuth(detail string, err error) error {
	return &Error{Kind: KindProviderAuth, Message: "calendar provider rejected the token refresh", Detail: detail, Err: err}
}

func ProviderAPI(op string, status int, detail string) error {
	return &Error{Kind: KindProviderAPI, Message: fmt.Sprintf("calendar provider %s failed (status %d)", op, status), Status: status, Detail: detail}
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the taxonomy kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the human-readable message of an *Error without provider detail.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return ""
}
