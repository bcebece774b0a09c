package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures so transports can translate them consistently.
type ErrorKind string

const (
	// KindAuthentication means there is no valid or refreshable credential.
	// The client has to restart the OAuth flow.
	KindAuthentication ErrorKind = "authentication_error"

	// KindAuthorization means a state token was invalid, expired or replayed,
	// or the provider rejected the grant.
	KindAuthorization ErrorKind = "authorization_error"

	// KindServiceUnavailable means the provider could not be reached in time.
	// Operations failing with this kind are eligible for one retry.
	KindServiceUnavailable ErrorKind = "service_unavailable"

	// KindNotFound means the session or resource does not exist.
	KindNotFound ErrorKind = "not_found"

	// KindValidation means a request field was malformed. Never retried.
	KindValidation ErrorKind = "validation_error"
)

// Error is the typed error returned by the auth package.
type Error struct {
	Kind    ErrorKind
	Message string
	// Field names the offending request field for validation errors.
	Field string
	Err   error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind to an HTTP status code.
func (e *Error) HTTPStatus() int {
	return statusForKind(e.Kind)
}

func statusForKind(kind ErrorKind) int {
	switch kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Constructors for each error kind.
var (
	ErrAuthentication = func(msg string, cause error) *Error {
		return &Error{Kind: KindAuthentication, Message: msg, Err: cause}
	}

	ErrAuthorization = func(msg string, cause error) *Error {
		return &Error{Kind: KindAuthorization, Message: msg, Err: cause}
	}

	ErrServiceUnavailable = func(msg string, cause error) *Error {
		return &Error{Kind: KindServiceUnavailable, Message: msg, Err: cause}
	}

	ErrNotFound = func(msg string) *Error {
		return &Error{Kind: KindNotFound, Message: msg}
	}

	ErrValidation = func(field, msg string) *Error {
		return &Error{Kind: KindValidation, Field: field, Message: msg}
	}
)

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus returns the HTTP status for any error, 500 for untyped ones.
func HTTPStatus(err error) int {
	return statusForKind(KindOf(err))
}

// Is reports whether target is an *Error of the same kind. It lets callers match
// kinds with errors.Is(err, ErrKindAuthentication).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinel values for errors.Is comparisons.
var (
	ErrKindAuthentication     = &Error{Kind: KindAuthentication}
	ErrKindAuthorization      = &Error{Kind: KindAuthorization}
	ErrKindServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrKindNotFound           = &Error{Kind: KindNotFound}
	ErrKindValidation         = &Error{Kind: KindValidation}
)
