package dispatch_test

import (
	"context"
	"os/exec"
	"testing"

	"github.com/golang/mock/gomock"

	"sysmate/internal/dispatch"
	"sysmate/internal/dispatch/mocks"
)

func exitError(t *testing.T, code string) error {
	t.Helper()
	err := exec.Command("sh", "-c", "exit "+code).Run()
	if err == nil {
		t.Fatalf("sh exited 0 for code %s", code)
	}
	return err
}

func TestPolkitVerdicts(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		err     func(t *testing.T) error
		want    dispatch.Verdict
		wantErr bool
	}{
		{name: "granted", err: func(*testing.T) error { return nil }, want: dispatch.Granted},
		{name: "not authorized", out: "Not authorized.", err: func(t *testing.T) error { return exitError(t, "1") }, want: dispatch.Refused},
		{name: "dismissed", err: func(t *testing.T) error { return exitError(t, "3") }, want: dispatch.Refused},
		{name: "pkcheck broken", err: func(t *testing.T) error { return exitError(t, "4") }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			runner := mocks.NewMockCommandRunner(ctrl)
			action := mustAction(t, dispatch.KindVacuumJournal, dispatch.Target{})
			runner.EXPECT().Run(gomock.Any(), "pkcheck",
				"--action-id", "org.sysmate.vacuum-journal",
				"--process", "77",
				"--allow-user-interaction",
				"--detail", "target", "system",
				"--detail", "requested_by", "test",
			).Return([]byte(tt.out), tt.err(t))

			outcome, err := dispatch.Polkit{Runner: runner, Subject: 77}.RequestAuthorization(context.Background(), action)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if outcome.Verdict != tt.want {
				t.Fatalf("verdict = %s, want %s", outcome.Verdict, tt.want)
			}
			if tt.out != "" && outcome.Reason != tt.out {
				t.Fatalf("reason = %q", outcome.Reason)
			}
		})
	}
}

func TestNewAuthorizer(t *testing.T) {
	action := mustAction(t, dispatch.KindPackageUpgrade, dispatch.Target{})
	allow, err := dispatch.NewAuthorizer("allow", nil)
	if err != nil {
		t.Fatal(err)
	}
	if o, _ := allow.RequestAuthorization(context.Background(), action); o.Verdict != dispatch.Granted {
		t.Fatalf("allow: %v", o.Verdict)
	}
	deny, err := dispatch.NewAuthorizer("deny", nil)
	if err != nil {
		t.Fatal(err)
	}
	if o, _ := deny.RequestAuthorization(context.Background(), action); o.Verdict != dispatch.Refused || o.Reason == "" {
		t.Fatalf("deny: %+v", o)
	}
	if _, err := dispatch.NewAuthorizer("sudo", nil); err == nil {
		t.Fatal("expected error for unknown authorizer")
	}
}
