package dispatch

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an action did not execute successfully.
type ErrorKind string

const (
	ErrorDenied               ErrorKind = "denied"
	ErrorTargetVanished       ErrorKind = "target_vanished"
	ErrorAuthorizationTimeout ErrorKind = "authorization_timeout"
	ErrorExecutionFailed      ErrorKind = "execution_failed"
	ErrorCancelled            ErrorKind = "cancelled"
	ErrorAlreadySubmitted     ErrorKind = "already_submitted"
	ErrorInvalid              ErrorKind = "invalid"
)

// Sentinels for errors.Is. A *DispatchError matches the sentinel of its kind.
var (
	ErrDenied               = &DispatchError{Kind: ErrorDenied}
	ErrTargetVanished       = &DispatchError{Kind: ErrorTargetVanished}
	ErrAuthorizationTimeout = &DispatchError{Kind: ErrorAuthorizationTimeout}
	ErrExecutionFailed      = &DispatchError{Kind: ErrorExecutionFailed}
	ErrCancelled            = &DispatchError{Kind: ErrorCancelled}
	ErrAlreadySubmitted     = &DispatchError{Kind: ErrorAlreadySubmitted}
	ErrInvalidAction        = &DispatchError{Kind: ErrorInvalid}
	ErrUnknownAction        = errors.New("unknown action id")
)

// DispatchError is returned for every action that does not reach Executed.
type DispatchError struct {
	Kind     ErrorKind
	ActionID string
	Reason   string
	Cause    error
}

func (e *DispatchError) Error() string {
	msg := "dispatch: " + string(e.Kind)
	if e.ActionID != "" {
		msg += " (action " + e.ActionID + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DispatchError) Unwrap() error { return e.Cause }

// Is matches any *DispatchError of the same kind.
func (e *DispatchError) Is(target error) bool {
	var other *DispatchError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Denied reports whether the error represents refused privilege.
func (e *DispatchError) Denied() bool { return e.Kind == ErrorDenied }

func newError(kind ErrorKind, id, reason string, cause error) *DispatchError {
	return &DispatchError{Kind: kind, ActionID: id, Reason: reason, Cause: cause}
}

func invalid(format string, a ...any) *DispatchError {
	return &DispatchError{Kind: ErrorInvalid, Reason: fmt.Sprintf(format, a...)}
}

// KindOf extracts the dispatch error kind, or "" when err is not a dispatch error.
func KindOf(err error) ErrorKind {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
