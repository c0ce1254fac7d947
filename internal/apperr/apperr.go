// Package apperr defines the error taxonomy shared across the dispatch and
// job subsystems (kinds, not Go types — every error of this family carries
// one of these kinds plus a human-readable message).
package apperr

import (
	"errors"
	"fmt"
)

// Kind names a class of failure. The status-code mapping for each kind
// lives in internal/resp, kept next to the HTTP contract it serializes.
type Kind string

const (
	KindBadRequest      Kind = "BadRequest"
	KindUnknownCommand  Kind = "UnknownCommand"
	KindNotFound        Kind = "NotFound"
	KindNotReady        Kind = "NotReady"
	KindQueueFull       Kind = "QueueFull"
	KindTimeout         Kind = "Timeout"
	KindCanceled        Kind = "Canceled"
	KindAlreadyFinished Kind = "AlreadyFinished"
	KindRecoveryAborted Kind = "RecoveryAborted"
	KindServerError     Kind = "ServerError"
)

// Error is the uniform error value returned by registry lookups, queue
// admission, and job-manager operations.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Message
}

// New builds an *Error of the given kind.
func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err carries kind k, unwrapping as needed.
func Is(err error, k Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == k
}

// KindOf extracts the Kind from err, defaulting to KindServerError for
// errors outside this taxonomy (e.g. a raw I/O error bubbling up unwrapped).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServerError
}
