package apperrors

import (
	"context"
	"errors"
	"testing"
)

type deniedErr struct{}

func (deniedErr) Error() string { return "not allowed" }
func (deniedErr) Denied() bool  { return true }

func TestExitCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"config", NewConfigError("bad tick %q", "x"), ExitErrorConfig},
		{"wrapped config", WrapError(NewConfigError("bad"), "load"), ExitErrorConfig},
		{"denied", WrapError(deniedErr{}, "submit"), ExitErrorDenied},
		{"deadline", WrapError(context.DeadlineExceeded, "dial"), ExitErrorTimeout},
		{"canceled", context.Canceled, ExitErrorCanceled},
		{"generic", errors.New("boom"), ExitErrorGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExitCode(tt.err); got != tt.want {
				t.Fatalf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError(nil, "ctx") != nil {
		t.Fatal("WrapError(nil) should be nil")
	}
	if !IsContextError(WrapError(context.Canceled, "op")) {
		t.Fatal("wrapped cancellation should be a context error")
	}
}
