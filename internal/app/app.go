// Package app is the client-side facade shared by the CLI and the TUI. Every
// call dials the daemon, performs one or more Core RPCs and hangs up.
package app

// Options configures the top-level controller.
type Options struct {
	// ConfigPath points to the optional daemon config file.
	ConfigPath string
	// Version is reported by a daemon started through this facade.
	Version string
}

// App exposes high-level operations that the CLI/TUI can reuse.
type App struct {
	cfgPath string
	version string
}

// New constructs the shared controller facade.
func New(opts Options) *App {
	return &App{
		cfgPath: opts.ConfigPath,
		version: opts.Version,
	}
}

// ConfigPath returns the configured config file path (if any).
func (a *App) ConfigPath() string {
	return a.cfgPath
}
