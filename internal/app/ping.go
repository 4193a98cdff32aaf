package app

import (
	"context"
	"fmt"
	"time"

	"sysmate/internal/rpc"
)

// Ping contacts the daemon and returns its health response.
func (a *App) Ping(ctx context.Context, timeout time.Duration) (string, error) {
	if err := requireTimeout(timeout); err != nil {
		return "", err
	}
	var status string
	err := a.withClient(ctx, timeout, func(ctx context.Context, client *rpc.Client) error {
		resp, err := client.Ping(ctx)
		if err != nil {
			return fmt.Errorf("daemon ping RPC failed: %w", err)
		}
		status = resp.Status
		return nil
	})
	return status, err
}
