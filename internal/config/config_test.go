package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "sysmate/internal/errors"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickInterval != time.Second || cfg.SampleTimeout != time.Second {
		t.Fatalf("unexpected tick/sample: %s/%s", cfg.TickInterval, cfg.SampleTimeout)
	}
	if cfg.MissingTicks != 2 || cfg.GracePeriod != 5*time.Second {
		t.Fatalf("unexpected debounce defaults: %+v", cfg)
	}
	if cfg.Authorizer != "polkit" {
		t.Fatalf("unexpected authorizer %q", cfg.Authorizer)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeFile(t, "sysmate.yaml", `
tick_interval: 2s
missing_ticks: 3
grace_period: 10s
authorizer: allow
clean_roots: [/srv/cache]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickInterval != 2*time.Second {
		t.Fatalf("tick = %s", cfg.TickInterval)
	}
	if cfg.SampleTimeout != 2*time.Second {
		t.Fatalf("sample timeout should follow tick, got %s", cfg.SampleTimeout)
	}
	if cfg.MissingTicks != 3 || cfg.GracePeriod != 10*time.Second || cfg.Authorizer != "allow" {
		t.Fatalf("unexpected cfg %+v", cfg)
	}
	if len(cfg.CleanRoots) != 1 || cfg.CleanRoots[0] != "/srv/cache" {
		t.Fatalf("clean roots = %v", cfg.CleanRoots)
	}
}

func TestLoadJSONFile(t *testing.T) {
	path := writeFile(t, "sysmate.json", `{"tick_interval": "500ms", "auth_timeout": "5s"}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickInterval != 500*time.Millisecond || cfg.AuthTimeout != 5*time.Second {
		t.Fatalf("unexpected cfg %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "sysmate.yaml", "tick_interval: 2s\n")
	t.Setenv("SYSMATE_TICK_INTERVAL", "3s")
	t.Setenv("SYSMATE_SAMPLE_TIMEOUT", "1s")
	t.Setenv("SYSMATE_CLEAN_ROOTS", "/a:/b")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickInterval != 3*time.Second || cfg.SampleTimeout != time.Second {
		t.Fatalf("unexpected cfg %+v", cfg)
	}
	if len(cfg.CleanRoots) != 2 {
		t.Fatalf("clean roots = %v", cfg.CleanRoots)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "bad duration", body: "tick_interval: soon\n"},
		{name: "sample exceeds tick", body: "tick_interval: 1s\nsample_timeout: 2s\n"},
		{name: "unknown authorizer", body: "authorizer: sudo\n"},
		{name: "bad env", body: "", env: map[string]string{"SYSMATE_MISSING_TICKS": "two"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeFile(t, "c.yaml", tt.body)
			_, err := Load(path)
			var cfgErr apperrors.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}
}
