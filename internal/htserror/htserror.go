// Package htserror defines the htsget error taxonomy shared by the search
// core and the HTTP mapper. The core returns a *Error naming a Kind; the
// mapper (and only the mapper) turns a Kind into an HTTP status code.
package htserror

import "fmt"

// Kind is one of the error categories defined by the htsget specification.
type Kind string

// The error kinds a core operation can fail with.
const (
	InvalidInput          Kind = "InvalidInput"
	UnsupportedFormat     Kind = "UnsupportedFormat"
	InvalidRange          Kind = "InvalidRange"
	InvalidAuthentication Kind = "InvalidAuthentication"
	PermissionDenied      Kind = "PermissionDenied"
	NotFound              Kind = "NotFound"
	PayloadTooLarge       Kind = "PayloadTooLarge"
	ServerError           Kind = "ServerError"
)

// Error is a typed htsget error. It carries a Kind so the HTTP mapper can
// render the correct status code and error envelope without inspecting
// string messages.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// New returns an *Error of the given kind wrapping context.
func New(kind Kind, context string, cause error) *Error {
	return &Error{Kind: kind, Message: context, cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/As to see through to the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Invalid returns an InvalidInput error.
func Invalid(context string, cause error) *Error {
	return New(InvalidInput, context, cause)
}

// Unsupported returns an UnsupportedFormat error.
func Unsupported(context string, cause error) *Error {
	return New(UnsupportedFormat, context, cause)
}

// InvalidRegion returns an InvalidRange error.
func InvalidRegion(context string, cause error) *Error {
	return New(InvalidRange, context, cause)
}

// Forbidden returns a PermissionDenied error.
func Forbidden(context string, cause error) *Error {
	return New(PermissionDenied, context, cause)
}

// Missing returns a NotFound error.
func Missing(context string, cause error) *Error {
	return New(NotFound, context, cause)
}

// Internal returns a ServerError. Malformed indices and exhausted retries
// surface this way: the client's request was fine, the server failed it.
func Internal(context string, cause error) *Error {
	return New(ServerError, context, cause)
}

// As reports whether err (or something it wraps) is an *Error, returning it.
func As(err error) (*Error, bool) {
	he, ok := err.(*Error)
	return he, ok
}
