package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "sysmate/internal/errors"
)

const (
	defaultTickInterval      = time.Second
	defaultMissingTicks      = 2
	defaultGracePeriod       = 5 * time.Second
	defaultStaleAfter        = 3
	defaultAuthTimeout       = 30 * time.Second
	defaultSubscriberBacklog = 1024
	defaultActionRate        = 2.0
	defaultActionBurst       = 4
	defaultClockTicks        = 100
	defaultAuthorizer        = "polkit"

	envPrefix = "SYSMATE_"
)

// Config aggregates the tunables of the monitoring core and its daemon.
type Config struct {
	TickInterval      time.Duration
	SampleTimeout     time.Duration
	MissingTicks      int
	GracePeriod       time.Duration
	StaleAfter        int
	ClockTicks        int
	AuthTimeout       time.Duration
	Authorizer        string
	SubscriberBacklog int
	ActionRate        float64
	ActionBurst       int
	CleanRoots        []string
	LogLevel          string
	MetricsAddr       string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		TickInterval:      defaultTickInterval,
		SampleTimeout:     defaultTickInterval,
		MissingTicks:      defaultMissingTicks,
		GracePeriod:       defaultGracePeriod,
		StaleAfter:        defaultStaleAfter,
		ClockTicks:        defaultClockTicks,
		AuthTimeout:       defaultAuthTimeout,
		Authorizer:        defaultAuthorizer,
		SubscriberBacklog: defaultSubscriberBacklog,
		ActionRate:        defaultActionRate,
		ActionBurst:       defaultActionBurst,
		CleanRoots:        defaultCleanRoots(),
		LogLevel:          "info",
	}
}

// Load builds a Config from an optional YAML/JSON file plus environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	sampleTimeoutSet := false

	if path != "" {
		raw, err := loadFromFile(path)
		if err != nil {
			return cfg, apperrors.NewConfigError("load config %s: %v", path, err)
		}
		if err := raw.apply(&cfg); err != nil {
			return cfg, apperrors.NewConfigError("config %s: %v", path, err)
		}
		sampleTimeoutSet = raw.SampleTimeout != ""
	}

	set, err := applyEnvOverrides(&cfg)
	if err != nil {
		return cfg, apperrors.NewConfigError("%v", err)
	}
	if !sampleTimeoutSet && !set[envPrefix+"SAMPLE_TIMEOUT"] {
		cfg.SampleTimeout = cfg.TickInterval
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch {
	case c.TickInterval <= 0:
		return apperrors.NewConfigError("tick_interval must be > 0")
	case c.SampleTimeout <= 0:
		return apperrors.NewConfigError("sample_timeout must be > 0")
	case c.SampleTimeout > c.TickInterval:
		return apperrors.NewConfigError("sample_timeout (%s) must not exceed tick_interval (%s)", c.SampleTimeout, c.TickInterval)
	case c.MissingTicks < 1:
		return apperrors.NewConfigError("missing_ticks must be >= 1")
	case c.GracePeriod < 0:
		return apperrors.NewConfigError("grace_period must be >= 0")
	case c.StaleAfter < 1:
		return apperrors.NewConfigError("stale_after must be >= 1")
	case c.ClockTicks <= 0:
		return apperrors.NewConfigError("clock_ticks must be > 0")
	case c.AuthTimeout <= 0:
		return apperrors.NewConfigError("auth_timeout must be > 0")
	case c.SubscriberBacklog < 1:
		return apperrors.NewConfigError("subscriber_backlog must be >= 1")
	case c.ActionRate <= 0 || c.ActionBurst < 1:
		return apperrors.NewConfigError("action_rate must be > 0 and action_burst >= 1")
	}
	switch c.Authorizer {
	case "polkit", "allow", "deny":
	default:
		return apperrors.NewConfigError("authorizer must be one of polkit, allow, deny (got %q)", c.Authorizer)
	}
	return nil
}

func defaultCleanRoots() []string {
	roots := []string{"/tmp", "/var/tmp"}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		roots = append(roots, home+"/.cache", home+"/.local/share/Trash")
	}
	return roots
}

func applyEnvOverrides(cfg *Config) (map[string]bool, error) {
	set := make(map[string]bool)
	durations := map[string]*time.Duration{
		"TICK_INTERVAL":  &cfg.TickInterval,
		"SAMPLE_TIMEOUT": &cfg.SampleTimeout,
		"GRACE_PERIOD":   &cfg.GracePeriod,
		"AUTH_TIMEOUT":   &cfg.AuthTimeout,
	}
	for name, dst := range durations {
		v := os.Getenv(envPrefix + name)
		if v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return set, fmt.Errorf("invalid %s%s value %q: %v", envPrefix, name, v, err)
		}
		*dst = dur
		set[envPrefix+name] = true
	}

	ints := map[string]*int{
		"MISSING_TICKS":      &cfg.MissingTicks,
		"STALE_AFTER":        &cfg.StaleAfter,
		"SUBSCRIBER_BACKLOG": &cfg.SubscriberBacklog,
		"ACTION_BURST":       &cfg.ActionBurst,
	}
	for name, dst := range ints {
		v := os.Getenv(envPrefix + name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return set, fmt.Errorf("invalid %s%s value %q: %v", envPrefix, name, v, err)
		}
		*dst = n
		set[envPrefix+name] = true
	}

	if v := os.Getenv(envPrefix + "ACTION_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return set, fmt.Errorf("invalid %sACTION_RATE value %q: %v", envPrefix, v, err)
		}
		cfg.ActionRate = f
	}
	if v := os.Getenv(envPrefix + "AUTHORIZER"); v != "" {
		cfg.Authorizer = strings.TrimSpace(v)
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv(envPrefix + "METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = strings.TrimSpace(v)
	}
	if v := os.Getenv(envPrefix + "CLEAN_ROOTS"); v != "" {
		cfg.CleanRoots = splitList(v)
	}
	return set, nil
}

type fileConfig struct {
	TickInterval      string   `yaml:"tick_interval"`
	SampleTimeout     string   `yaml:"sample_timeout"`
	MissingTicks      int      `yaml:"missing_ticks"`
	GracePeriod       string   `yaml:"grace_period"`
	StaleAfter        int      `yaml:"stale_after"`
	ClockTicks        int      `yaml:"clock_ticks"`
	AuthTimeout       string   `yaml:"auth_timeout"`
	Authorizer        string   `yaml:"authorizer"`
	SubscriberBacklog int      `yaml:"subscriber_backlog"`
	ActionRate        float64  `yaml:"action_rate"`
	ActionBurst       int      `yaml:"action_burst"`
	CleanRoots        []string `yaml:"clean_roots"`
	LogLevel          string   `yaml:"log_level"`
	MetricsAddr       string   `yaml:"metrics_addr"`
}

// loadFromFile accepts YAML; JSON parses too since it is a YAML subset.
func loadFromFile(path string) (fileConfig, error) {
	var raw fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return raw, err
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return raw, err
	}
	return raw, nil
}

func (raw fileConfig) apply(cfg *Config) error {
	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"tick_interval", raw.TickInterval, &cfg.TickInterval},
		{"sample_timeout", raw.SampleTimeout, &cfg.SampleTimeout},
		{"grace_period", raw.GracePeriod, &cfg.GracePeriod},
		{"auth_timeout", raw.AuthTimeout, &cfg.AuthTimeout},
	}
	for _, d := range durations {
		if d.src == "" {
			continue
		}
		dur, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = dur
	}
	if raw.MissingTicks != 0 {
		cfg.MissingTicks = raw.MissingTicks
	}
	if raw.StaleAfter != 0 {
		cfg.StaleAfter = raw.StaleAfter
	}
	if raw.ClockTicks != 0 {
		cfg.ClockTicks = raw.ClockTicks
	}
	if raw.Authorizer != "" {
		cfg.Authorizer = raw.Authorizer
	}
	if raw.SubscriberBacklog != 0 {
		cfg.SubscriberBacklog = raw.SubscriberBacklog
	}
	if raw.ActionRate != 0 {
		cfg.ActionRate = raw.ActionRate
	}
	if raw.ActionBurst != 0 {
		cfg.ActionBurst = raw.ActionBurst
	}
	if len(raw.CleanRoots) > 0 {
		cfg.CleanRoots = append([]string(nil), raw.CleanRoots...)
	}
	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}
	if raw.MetricsAddr != "" {
		cfg.MetricsAddr = raw.MetricsAddr
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ":")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
