package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies bridge errors.
type ErrorKind int

const (
	// KindTransportDisconnected indicates the channel to the remote
	// interpreter was lost before a reply arrived.
	KindTransportDisconnected ErrorKind = iota
	// KindRemoteRuntime indicates the remote chunk raised an error.
	KindRemoteRuntime
	// KindCommandFailure indicates a command-class call reported failure.
	// It is a refinement of KindRemoteRuntime.
	KindCommandFailure
	// KindTypeMismatch indicates a reply did not have the declared shape.
	KindTypeMismatch
	// KindFileNotFound indicates a remote source file is missing or a directory.
	KindFileNotFound
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindTransportDisconnected:
		return "transport_disconnected"
	case KindRemoteRuntime:
		return "remote_runtime"
	case KindCommandFailure:
		return "command_failure"
	case KindTypeMismatch:
		return "type_mismatch"
	case KindFileNotFound:
		return "file_not_found"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is the single error type produced by the bridge core.
type Error struct {
	Kind ErrorKind
	// Message is the remote message verbatim (runtime errors), a shape
	// description (type mismatches) or a path (file not found).
	Message string
	// Output is the command output for command failures.
	Output string
	// Status is the command status code for command failures.
	Status int64
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindCommandFailure:
		return fmt.Sprintf("command failed with status %d: %s", e.Status, e.Output)
	case KindFileNotFound:
		return "file not found: " + e.Message
	case KindTransportDisconnected:
		if e.Err != nil {
			return fmt.Sprintf("transport disconnected: %v", e.Err)
		}
		return "transport disconnected"
	case KindTypeMismatch:
		return "type mismatch: " + e.Message
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewRemoteRuntimeError builds a remote runtime error carrying msg verbatim.
func NewRemoteRuntimeError(msg string) *Error {
	return &Error{Kind: KindRemoteRuntime, Message: msg}
}

// NewCommandFailure builds a command failure.
func NewCommandFailure(output string, status int64) *Error {
	return &Error{Kind: KindCommandFailure, Message: output, Output: output, Status: status}
}

// NewTypeMismatch builds a type mismatch with a formatted description.
func NewTypeMismatch(format string, args ...any) *Error {
	return &Error{Kind: KindTypeMismatch, Message: fmt.Sprintf(format, args...)}
}

// NewFileNotFound builds a file-not-found error for path.
func NewFileNotFound(path string) *Error {
	return &Error{Kind: KindFileNotFound, Message: path}
}

// NewTransportDisconnected wraps cause as a transport loss.
func NewTransportDisconnected(cause error) *Error {
	return &Error{Kind: KindTransportDisconnected, Err: cause}
}

func kindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsTransportDisconnected returns true if err is a transport loss.
func IsTransportDisconnected(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTransportDisconnected
}

// IsRemoteRuntime returns true if err is a remote runtime error.
// Command failures count as remote runtime errors.
func IsRemoteRuntime(err error) bool {
	k, ok := kindOf(err)
	return ok && (k == KindRemoteRuntime || k == KindCommandFailure)
}

// IsCommandFailure returns true if err is a command failure.
func IsCommandFailure(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindCommandFailure
}

// IsTypeMismatch returns true if err is a type mismatch.
func IsTypeMismatch(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTypeMismatch
}

// IsFileNotFound returns true if err is a missing remote file.
func IsFileNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindFileNotFound
}
