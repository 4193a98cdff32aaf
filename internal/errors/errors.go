// Package apperrors holds the process-level error taxonomy: exit codes and
// the configuration error type shared by the CLI and the daemon.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Exit codes returned by the sysmate binaries.
const (
	ExitSuccess       = 0
	ExitErrorGeneric  = 1
	ExitErrorTimeout  = 2
	ExitErrorDenied   = 3
	ExitErrorConfig   = 4
	ExitErrorCanceled = 130
)

// ConfigError reports invalid user configuration.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string { return e.Message }

// NewConfigError creates a ConfigError with a formatted message.
func NewConfigError(format string, a ...any) error {
	return ConfigError{Message: fmt.Sprintf(format, a...)}
}

// DeniedError is implemented by errors that represent a refused privilege.
type DeniedError interface {
	error
	Denied() bool
}

// WrapError adds context to err, returning nil when err is nil.
func WrapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// IsContextError reports whether err stems from cancellation or a deadline.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var cfgErr ConfigError
	if errors.As(err, &cfgErr) {
		return ExitErrorConfig
	}
	var denied DeniedError
	if errors.As(err, &denied) && denied.Denied() {
		return ExitErrorDenied
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ExitErrorTimeout
	case errors.Is(err, context.Canceled):
		return ExitErrorCanceled
	}
	return ExitErrorGeneric
}
