package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"sysmate/internal/bus"
	"sysmate/internal/dispatch"
	"sysmate/internal/model"
	"sysmate/internal/modules"
	"sysmate/internal/monitor"
	"sysmate/internal/names"
	"sysmate/internal/registry"
)

// InvalidArgument marks err as a caller mistake.
func InvalidArgument(err error) error {
	return status.Error(codes.InvalidArgument, err.Error())
}

// Status converts a core error into a gRPC status error.
func Status(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	code := codes.Internal
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, dispatch.ErrUnknownAction):
		code = codes.NotFound
	case errors.Is(err, bus.ErrRateLimited):
		code = codes.ResourceExhausted
	case errors.Is(err, bus.ErrBusClosed), errors.Is(err, modules.ErrNotReady), errors.Is(err, monitor.ErrStopped):
		code = codes.Unavailable
	case errors.Is(err, dispatch.ErrAlreadySubmitted):
		code = codes.AlreadyExists
	case errors.Is(err, dispatch.ErrInvalidAction), errors.Is(err, names.ErrInvalid):
		code = codes.InvalidArgument
	case errors.Is(err, dispatch.ErrDenied):
		code = codes.PermissionDenied
	}
	return status.Error(code, err.Error())
}

// OutcomeError rebuilds the dispatch error carried by an outcome, or nil
// when the action succeeded or is still running.
func OutcomeError(out model.ActionOutcome) error {
	if out.ErrorKind == "" {
		return nil
	}
	return &dispatch.DispatchError{
		Kind:     dispatch.ErrorKind(out.ErrorKind),
		ActionID: out.ActionID,
		Reason:   out.Reason,
	}
}

// deniedStatus keeps the exit code of a refused action on the client side.
type deniedStatus struct {
	error
}

func (deniedStatus) Denied() bool { return true }

func (d deniedStatus) Unwrap() error { return d.error }

func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.PermissionDenied:
		return deniedStatus{err}
	case codes.DeadlineExceeded:
		return errors.Join(err, context.DeadlineExceeded)
	case codes.Canceled:
		return errors.Join(err, context.Canceled)
	}
	return err
}
