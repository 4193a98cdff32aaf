package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"sysmate/internal/daemon"
	"sysmate/internal/rpc"
)

var (
	daemonIsRunning  = daemon.IsRunning
	dialDaemonClient = dialDaemon
)

func dialDaemon(ctx context.Context) (*rpc.Client, io.Closer, error) {
	client, conn, err := daemon.Dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	return client, conn, nil
}

func resetDaemonDeps() {
	daemonIsRunning = daemon.IsRunning
	dialDaemonClient = dialDaemon
}

// withClient runs fn against a fresh connection. timeout bounds the dial and
// every call fn makes; zero means no deadline beyond ctx, which is what
// long-lived streams need.
func (a *App) withClient(ctx context.Context, timeout time.Duration, fn func(context.Context, *rpc.Client) error) error {
	if timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if !daemonIsRunning() {
		return errors.New("daemon is not running")
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	client, conn, err := dialDaemonClient(ctx)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	if conn != nil {
		defer conn.Close()
	}

	return fn(ctx, client)
}

func requireTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return errors.New("timeout must be greater than 0")
	}
	return nil
}
