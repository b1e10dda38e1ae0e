// Package storage defines the byte-addressable object store contract that
// format engines are built against, and a retrying decorator any backend
// can be wrapped in.
package storage

import (
	"context"
	"fmt"
	"io"
)

// ErrorKind classifies a storage failure so callers can decide whether to
// retry, surface NotFound, or fall back to a whole-file ticket.
type ErrorKind string

// The error kinds a Backend operation can fail with.
const (
	NotFound         ErrorKind = "NotFound"
	PermissionDenied ErrorKind = "PermissionDenied"
	Transient        ErrorKind = "Transient"
	Malformed        ErrorKind = "Malformed"
)

// Error is a typed storage failure.
type Error struct {
	Kind    ErrorKind
	Backend string
	cause   error
}

// NewError returns a storage Error of the given kind.
func NewError(kind ErrorKind, backend string, cause error) *Error {
	return &Error{Kind: kind, Backend: backend, cause: cause}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s storage: %s: %v", e.Backend, e.Kind, e.cause)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.cause
}

// ByteRange is an inclusive [First, Last] byte range over an object.
type ByteRange struct {
	First, Last uint64
}

// Url is what a client will fetch to retrieve one ticketed range.
type Url struct {
	URL     string
	Headers map[string]string
}

// Backend is the contract every storage implementation (local, S3, GCS)
// satisfies. Format engines are written against this interface only; they
// never know which concrete backend resolved their key.
type Backend interface {
	// Head returns the size in bytes of the object named by key.
	Head(ctx context.Context, key string) (int64, error)

	// GetRange returns a reader over the given byte range of the object
	// named by key. It is used only for objects (indices, or small header
	// prefixes of the primary object) the engine itself must read.
	GetRange(ctx context.Context, key string, r ByteRange) (io.ReadCloser, error)

	// TicketURL returns what the client will fetch to retrieve the given
	// byte range of the object named by key.
	TicketURL(ctx context.Context, key string, r ByteRange) (Url, error)
}
