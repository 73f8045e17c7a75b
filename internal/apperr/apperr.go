// Package apperr defines the error taxonomy returned by the auth and user
// services. Every failure a service raises on purpose carries exactly one
// Kind plus a human readable message. Handlers translate the kind into an
// HTTP status; anything without a kind is treated as an internal failure.
package apperr

import "errors"

// Kind classifies a service error independent of the transport.
type Kind uint8

const (
	// KindUnknown is reported for errors that did not originate from this package.
	KindUnknown Kind = iota
	// KindNotFound: the referenced user or token does not exist.
	KindNotFound
	// KindForbidden: the entity exists but a precondition blocks the action.
	KindForbidden
	// KindUnauthorized: credential or token mismatch, invalid or expired signed token.
	KindUnauthorized
	// KindBadRequest: malformed input, expired window, or a policy violation.
	KindBadRequest
	// KindConflict: duplicate unique field on creation.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindUnauthorized:
		return "unauthorized"
	case KindBadRequest:
		return "bad_request"
	case KindConflict:
		return "conflict"
	}
	return "unknown"
}

// Error is a taxonomy error. The optional cause is kept for logging and
// errors.Is/As chains; it is never shown to callers.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

// New builds an error of the given kind.
func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

// Wrap builds an error of the given kind that remembers its cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

func NotFound(msg string) *Error     { return New(KindNotFound, msg) }
func Forbidden(msg string) *Error    { return New(KindForbidden, msg) }
func Unauthorized(msg string) *Error { return New(KindUnauthorized, msg) }
func BadRequest(msg string) *Error   { return New(KindBadRequest, msg) }
func Conflict(msg string) *Error     { return New(KindConflict, msg) }

// KindOf returns the kind of the first taxonomy error in err's chain, or
// KindUnknown when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
