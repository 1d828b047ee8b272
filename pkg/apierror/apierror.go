// Package apierror defines the error-kind taxonomy shared by every
// internal package. Collaborators return these sentinel-wrapped errors;
// only internal/api translates a Kind to an HTTP status and JSON body.
package apierror

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNotFound
	KindConflict
	KindAuth
	KindRemoteTransient
	KindRemotePermanent
	KindStorage
	KindTimeout
	KindUpstreamUnavailable
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindAuth:
		return "auth_error"
	case KindRemoteTransient:
		return "remote_transient"
	case KindRemotePermanent:
		return "remote_permanent"
	case KindStorage:
		return "storage"
	case KindTimeout:
		return "timeout"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the concrete type every sentinel below wraps. Code outside
// this package should never construct one directly -- use New or Wrap.
type Error struct {
	kind    Kind
	msg     string
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.wrapped)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.wrapped }

func (e *Error) Kind() Kind { return e.kind }

func New(k Kind, msg string) *Error {
	return &Error{kind: k, msg: msg}
}

func Newf(k Kind, format string, v ...interface{}) *Error {
	return &Error{kind: k, msg: fmt.Sprintf(format, v...)}
}

// Wrap attaches a Kind to an existing error without discarding it --
// errors.Unwrap and errors.Is still see through to cause.
func Wrap(k Kind, msg string, cause error) *Error {
	return &Error{kind: k, msg: msg, wrapped: cause}
}

func InvalidInput(format string, v ...interface{}) *Error {
	return Newf(KindInvalidInput, format, v...)
}

func NotFound(format string, v ...interface{}) *Error {
	return Newf(KindNotFound, format, v...)
}

func Conflict(format string, v ...interface{}) *Error {
	return Newf(KindConflict, format, v...)
}

func AuthError(format string, v ...interface{}) *Error {
	return Newf(KindAuth, format, v...)
}

// RemoteTransient marks a 5xx/429/timeout from an external collaborator
// (Bakta) or a filesystem/DB blip -- retried per spec §4.4a.
func RemoteTransient(msg string, cause error) *Error {
	return Wrap(KindRemoteTransient, msg, cause)
}

// RemotePermanent marks a non-retryable 4xx from Bakta, or an explicit
// failedJobs UNAUTHORIZED/NOT_FOUND entry -- the owning job transitions
// to Error.
func RemotePermanent(msg string, cause error) *Error {
	return Wrap(KindRemotePermanent, msg, cause)
}

// Storage marks a DB acquire/commit failure.
func Storage(msg string, cause error) *Error {
	return Wrap(KindStorage, msg, cause)
}

// Timeout marks a poll-deadline, upload, or model-load timeout.
func Timeout(format string, v ...interface{}) *Error {
	return Newf(KindTimeout, format, v...)
}

func UpstreamUnavailable(msg string, cause error) *Error {
	return Wrap(KindUpstreamUnavailable, msg, cause)
}

func Internal(msg string, cause error) *Error {
	return Wrap(KindInternal, msg, cause)
}

// KindOf extracts the Kind of err, walking the wrap chain. Errors that
// never passed through this package report KindInternal -- an
// unclassified failure is treated as a bug, not a client mistake.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	return KindInternal
}
