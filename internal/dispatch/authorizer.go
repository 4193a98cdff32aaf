package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Verdict is the result of one authorization round trip.
type Verdict int

const (
	Granted Verdict = iota + 1
	Refused
	TimedOut
)

func (v Verdict) String() string {
	switch v {
	case Granted:
		return "granted"
	case Refused:
		return "denied"
	case TimedOut:
		return "timed out"
	}
	return "unknown"
}

// Outcome carries a verdict and, for refusals, the reason given by the backend.
type Outcome struct {
	Verdict Verdict
	Reason  string
}

// Authorizer asks the host authorization service whether an action may run.
// It is consulted once per action and its answer is never cached.
type Authorizer interface {
	RequestAuthorization(ctx context.Context, action PrivilegedAction) (Outcome, error)
}

// PolicyPrefix namespaces the polkit action ids the daemon asks about.
const PolicyPrefix = "org.sysmate."

// PolicyID returns the polkit action id for a kind.
func PolicyID(k Kind) string { return PolicyPrefix + string(k) }

// Polkit asks polkit through pkcheck, allowing interactive authentication.
type Polkit struct {
	Runner CommandRunner
	// Subject is the pid whose credentials are checked. Defaults to the daemon itself.
	Subject int
}

func (p Polkit) RequestAuthorization(ctx context.Context, action PrivilegedAction) (Outcome, error) {
	subject := p.Subject
	if subject == 0 {
		subject = os.Getpid()
	}
	runner := p.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	args := []string{
		"--action-id", PolicyID(action.Kind()),
		"--process", strconv.Itoa(subject),
		"--allow-user-interaction",
		"--detail", "target", action.Target().String(),
		"--detail", "requested_by", action.RequestedBy(),
	}
	out, err := runner.Run(ctx, "pkcheck", args...)
	if err == nil {
		return Outcome{Verdict: Granted}, nil
	}
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		return Outcome{Verdict: TimedOut}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case 1, 2:
			return Outcome{Verdict: Refused, Reason: pkcheckReason(out, "not authorized")}, nil
		case 3:
			return Outcome{Verdict: Refused, Reason: "authentication dialog dismissed"}, nil
		}
	}
	return Outcome{}, fmt.Errorf("pkcheck: %w", err)
}

func pkcheckReason(out []byte, fallback string) string {
	if msg := strings.TrimSpace(string(out)); msg != "" {
		return msg
	}
	return fallback
}

// Static answers every request the same way. Used for tests and for
// deployments where the daemon already runs with the needed privileges.
type Static struct {
	Grant  bool
	Reason string
}

func (s Static) RequestAuthorization(ctx context.Context, _ PrivilegedAction) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if s.Grant {
		return Outcome{Verdict: Granted}, nil
	}
	reason := s.Reason
	if reason == "" {
		reason = "denied by policy"
	}
	return Outcome{Verdict: Refused, Reason: reason}, nil
}

// NewAuthorizer builds the authorizer named in configuration.
func NewAuthorizer(name string, runner CommandRunner) (Authorizer, error) {
	switch name {
	case "polkit", "":
		return Polkit{Runner: runner}, nil
	case "allow":
		return Static{Grant: true}, nil
	case "deny":
		return Static{Reason: "all privileged actions are disabled"}, nil
	}
	return nil, fmt.Errorf("unknown authorizer %q", name)
}
