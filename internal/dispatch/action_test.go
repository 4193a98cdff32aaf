package dispatch

import (
	"errors"
	"testing"

	"sysmate/internal/model"
)

func TestNewActionValidatesTargets(t *testing.T) {
	proc := Target{Process: model.ProcessIdentity{PID: 99, StartTime: 5}}
	tests := []struct {
		name    string
		kind    Kind
		target  Target
		module  string
		want    Target
		wantErr bool
	}{
		{name: "kill", kind: KindKillProcess, target: proc, module: "taskmgr", want: proc},
		{name: "kill needs pid", kind: KindKillProcess, target: Target{Service: "x"}, module: "taskmgr", wantErr: true},
		{name: "pid 1", kind: KindForceKillProcess, target: Target{Process: model.ProcessIdentity{PID: 1}}, module: "taskmgr", wantErr: true},
		{name: "unit suffix added", kind: KindServiceStop, target: Target{Service: "cups"}, module: "services", want: Target{Service: "cups.service"}},
		{name: "unit option injection", kind: KindServiceStart, target: Target{Service: "--now"}, module: "services", wantErr: true},
		{name: "relative path", kind: KindCleanPath, target: Target{Path: "tmp/x"}, module: "cleaner", wantErr: true},
		{name: "path cleaned", kind: KindCleanPath, target: Target{Path: "/tmp/a/../b/"}, module: "cleaner", want: Target{Path: "/tmp/b"}},
		{name: "package", kind: KindPackageInstall, target: Target{Package: "libc6:amd64"}, module: "packages", want: Target{Package: "libc6:amd64"}},
		{name: "package option injection", kind: KindPackageRemove, target: Target{Package: "-y"}, module: "packages", wantErr: true},
		{name: "no target kinds drop extras", kind: KindVacuumJournal, target: Target{Path: "/var/log"}, module: "cleaner", want: Target{}},
		{name: "unknown kind", kind: "reboot", module: "x", wantErr: true},
		{name: "bad module", kind: KindPackageUpgrade, module: "a b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAction(tt.kind, tt.target, tt.module)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAction) {
					t.Fatalf("expected ErrInvalidAction, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.Target() != tt.want {
				t.Fatalf("target = %+v, want %+v", a.Target(), tt.want)
			}
			if len(a.ID()) != 32 {
				t.Fatalf("unexpected id %q", a.ID())
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Fatalf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("format-disk"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestStateTransitions(t *testing.T) {
	allowed := map[[2]State]bool{
		{StatePending, StateAuthorized}:   true,
		{StatePending, StateDenied}:       true,
		{StatePending, StateCancelled}:    true,
		{StateAuthorized, StateExecuted}:  true,
		{StateAuthorized, StateFailed}:    true,
		{StateAuthorized, StateCancelled}: true,
	}
	all := []State{StatePending, StateAuthorized, StateDenied, StateExecuted, StateFailed, StateCancelled}
	for _, from := range all {
		for _, to := range all {
			if got := from.canMoveTo(to); got != allowed[[2]State{from, to}] {
				t.Errorf("%s -> %s: got %v", from, to, got)
			}
		}
	}
	for _, s := range []State{StateDenied, StateExecuted, StateFailed, StateCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestDispatchErrorMatching(t *testing.T) {
	cause := errors.New("exit status 100")
	err := error(newError(ErrorExecutionFailed, "abc", "apt-get failed", cause))
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatal("kind sentinel should match")
	}
	if errors.Is(err, ErrDenied) {
		t.Fatal("other kinds must not match")
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause should be reachable")
	}
	if KindOf(err) != ErrorExecutionFailed || KindOf(cause) != "" {
		t.Fatal("KindOf mismatch")
	}
	want := "dispatch: execution_failed (action abc): apt-get failed: exit status 100"
	if err.Error() != want {
		t.Fatalf("Error() = %q", err.Error())
	}
}
