package names

import (
	"errors"
	"testing"
)

func TestUnit(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "ssh", want: "ssh.service"},
		{in: " cups.socket ", want: "cups.socket"},
		{in: "getty@tty1.service", want: "getty@tty1.service"},
		{in: "", wantErr: true},
		{in: "ssh; rm -rf /", wantErr: true},
		{in: "--now", wantErr: true},
	}
	for _, tt := range tests {
		got, err := Unit(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("Unit(%q) err = %v", tt.in, err)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("Unit(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPackage(t *testing.T) {
	for _, ok := range []string{"g++", "libc6:amd64", "python3.12"} {
		if _, err := Package(ok); err != nil {
			t.Fatalf("Package(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "-y", "foo bar", "pkg/../x", "ünicode"} {
		if _, err := Package(bad); err == nil {
			t.Fatalf("Package(%q) should fail", bad)
		}
	}
}

func TestModuleID(t *testing.T) {
	if _, err := ModuleID("task-manager"); err != nil {
		t.Fatal(err)
	}
	if _, err := ModuleID("task manager"); err == nil {
		t.Fatal("spaces should be rejected")
	}
}

func TestErrorsMatchErrInvalid(t *testing.T) {
	_, err := Unit("a b")
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := Package("-x"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
