package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"sysmate/internal/app"
	apperrors "sysmate/internal/errors"
	"sysmate/internal/model"
	"sysmate/internal/modules"
	"sysmate/internal/rpc"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath     string
	timeoutSeconds int
)

var rootCmd = &cobra.Command{
	Use:           "sysmate [command]",
	Short:         "sysmate: system monitor and maintenance assistant",
	Long:          `sysmate talks to the sysmated daemon to inspect processes and run privileged maintenance actions: killing processes, managing systemd units, cleaning caches and handling packages.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().IntVarP(&timeoutSeconds, "timeout", "t", 5, "Timeout in seconds for daemon requests")
}

// controllerAPI is the part of app.App the commands use.
type controllerAPI interface {
	Ping(ctx context.Context, timeout time.Duration) (string, error)
	List(ctx context.Context, params app.ListParams) (app.Snapshot, error)
	Process(ctx context.Context, ref string, timeout time.Duration) (model.ProcessView, error)
	Kill(ctx context.Context, params app.KillParams) (app.KillResult, error)
	Submit(ctx context.Context, params app.ActionParams) (model.ActionOutcome, error)
	Action(ctx context.Context, actionID string, wait bool, timeout time.Duration) (model.ActionOutcome, error)
	Cancel(ctx context.Context, actionID string, timeout time.Duration) error
	Services(ctx context.Context, query string, refresh bool, timeout time.Duration) ([]modules.Unit, error)
	ServiceLogs(ctx context.Context, unit string, lines int, timeout time.Duration) (string, error)
	CleanScan(ctx context.Context, rescan bool, timeout time.Duration) ([]modules.CleanupItem, error)
	Clean(ctx context.Context, category string, timeout time.Duration) ([]model.ActionOutcome, error)
	Packages(ctx context.Context, refresh bool, timeout time.Duration) (rpc.PackagesReply, error)
	SearchPackages(ctx context.Context, query string, timeout time.Duration) ([]modules.Package, error)
	Watch(ctx context.Context, params app.WatchParams, fn func(model.ChangeEvent) error) error
	Status() (app.DaemonStatus, error)
	StopDaemon(force bool) error
	StartDaemon() (*app.DaemonHandle, error)
}

var controllerFactory = func() controllerAPI {
	return app.New(app.Options{ConfigPath: configPath, Version: version})
}

func controller() controllerAPI {
	return controllerFactory()
}

func requestTimeout() time.Duration {
	return time.Duration(timeoutSeconds) * time.Second
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorText(err))
		os.Exit(apperrors.ExitCode(err))
	}
}
