package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a command failure so clients can react to it
// programmatically instead of parsing message text.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "NotFound"
	KindAlreadyGrabbed   ErrorKind = "AlreadyGrabbed"
	KindPermissionDenied ErrorKind = "PermissionDenied"
	KindIOError          ErrorKind = "IOError"
	KindDisconnected     ErrorKind = "Disconnected"
	KindMalformed        ErrorKind = "Malformed"
	KindUnauthorized     ErrorKind = "Unauthorized"
	KindTimeout          ErrorKind = "Timeout"
	KindConflict         ErrorKind = "Conflict"
	KindCorruptData      ErrorKind = "CorruptData"
	KindInjection        ErrorKind = "Injection"
	KindInternal         ErrorKind = "Internal"
)

// Error is the typed error carried in command responses.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewError builds a typed error with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error chain, defaulting to Internal
// for untyped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
