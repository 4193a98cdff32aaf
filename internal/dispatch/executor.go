package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrTargetGone is returned by executors when the OS reports the target no
// longer exists. The dispatcher turns it into a TargetVanished result.
var ErrTargetGone = errors.New("target no longer exists")

// Executor performs an authorized action. It is called at most once per action.
type Executor interface {
	Execute(ctx context.Context, action PrivilegedAction) (output string, err error)
}

// Signaler delivers a signal to a pid.
type Signaler func(pid int, sig unix.Signal) error

// SystemExecutor runs actions against the local machine.
type SystemExecutor struct {
	Runner CommandRunner
	Signal Signaler
	// Elevate runs system commands through pkexec, and retries file
	// removals with pkexec when the daemon lacks permission on the path.
	// Set when the daemon does not run as root.
	Elevate bool
}

// NewSystemExecutor wires the default runner and unix.Kill.
func NewSystemExecutor(runner CommandRunner) *SystemExecutor {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &SystemExecutor{Runner: runner, Signal: unix.Kill, Elevate: os.Geteuid() != 0}
}

func (e *SystemExecutor) Execute(ctx context.Context, action PrivilegedAction) (string, error) {
	t := action.Target()
	switch action.Kind() {
	case KindKillProcess:
		return "", e.signal(ctx, int(t.Process.PID), unix.SIGTERM)
	case KindForceKillProcess:
		return "", e.signal(ctx, int(t.Process.PID), unix.SIGKILL)
	case KindServiceStart, KindServiceStop, KindServiceRestart, KindServiceEnable, KindServiceDisable:
		verb := strings.TrimPrefix(string(action.Kind()), "service-")
		return e.privileged(ctx, "systemctl", verb, "--", t.Service)
	case KindCleanPath:
		return e.removePath(ctx, t.Path)
	case KindCleanPackageCache:
		return e.privileged(ctx, "apt-get", "clean")
	case KindVacuumJournal:
		return e.privileged(ctx, "journalctl", "--vacuum-time=7d")
	case KindPackageInstall:
		return e.privileged(ctx, "apt-get", "install", "-y", "--", t.Package)
	case KindPackageRemove:
		return e.privileged(ctx, "apt-get", "remove", "-y", "--", t.Package)
	case KindPackageUpgrade:
		out, err := e.privileged(ctx, "apt-get", "update")
		if err != nil {
			return out, err
		}
		more, err := e.privileged(ctx, "apt-get", "upgrade", "-y")
		return strings.TrimSpace(out + "\n" + more), err
	case KindPackageAutoremove:
		return e.privileged(ctx, "apt-get", "autoremove", "-y")
	}
	return "", fmt.Errorf("no executor for %s", action.Kind())
}

func (e *SystemExecutor) signal(ctx context.Context, pid int, sig unix.Signal) error {
	send := e.Signal
	if send == nil {
		send = unix.Kill
	}
	err := send(pid, sig)
	if errors.Is(err, unix.EPERM) && e.Elevate && e.Runner != nil {
		// another user's process
		_, err = e.run(ctx, "pkexec", "kill", "-s", strings.TrimPrefix(unix.SignalName(sig), "SIG"), "--", strconv.Itoa(pid))
		if err != nil && !e.alive(pid) {
			return fmt.Errorf("pid %d: %w", pid, ErrTargetGone)
		}
		return err
	}
	if err != nil {
		if errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("pid %d: %w", pid, ErrTargetGone)
		}
		return fmt.Errorf("send %s to pid %d: %w", unix.SignalName(sig), pid, err)
	}
	return nil
}

// alive probes pid with signal 0; EPERM still means the process exists.
func (e *SystemExecutor) alive(pid int) bool {
	send := e.Signal
	if send == nil {
		send = unix.Kill
	}
	err := send(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// removePath empties a directory, keeping the directory itself, or removes
// a single file.
func (e *SystemExecutor) removePath(ctx context.Context, path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", path, ErrTargetGone)
		}
		return "", err
	}
	if !info.IsDir() {
		err = os.Remove(path)
	} else {
		err = emptyDir(path)
	}
	if err == nil || !errors.Is(err, os.ErrPermission) || !e.Elevate {
		return "", err
	}
	if !info.IsDir() {
		return e.run(ctx, "pkexec", "rm", "-f", "--", path)
	}
	return e.run(ctx, "pkexec", "find", path, "-mindepth", "1", "-delete")
}

func emptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// privileged runs a command that needs root, through pkexec when Elevate is set.
func (e *SystemExecutor) privileged(ctx context.Context, name string, args ...string) (string, error) {
	if !e.Elevate {
		return e.run(ctx, name, args...)
	}
	return e.run(ctx, "pkexec", append([]string{name}, args...)...)
}

func (e *SystemExecutor) run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := e.Runner.Run(ctx, name, args...)
	text := strings.TrimSpace(string(out))
	if err != nil {
		if text != "" {
			return text, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, lastLine(text))
		}
		return text, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return text, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
