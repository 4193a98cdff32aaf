package app

import (
	"context"
	"fmt"
	"time"

	"sysmate/internal/dispatch"
	"sysmate/internal/model"
	"sysmate/internal/modules"
	"sysmate/internal/rpc"
)

// ActionParams describes one privileged action request.
type ActionParams struct {
	Kind    dispatch.Kind
	Target  dispatch.Target
	Timeout time.Duration
	// Async returns as soon as the daemon has accepted the action.
	Async bool
}

// Submit sends one action to the daemon. For a synchronous call the error is
// a *dispatch.DispatchError whenever the action did not execute.
func (a *App) Submit(ctx context.Context, params ActionParams) (model.ActionOutcome, error) {
	if err := requireTimeout(params.Timeout); err != nil {
		return model.ActionOutcome{}, err
	}
	var out model.ActionOutcome
	err := a.withClient(ctx, params.Timeout, func(ctx context.Context, client *rpc.Client) error {
		var err error
		out, err = client.Submit(ctx, rpc.SubmitRequest{
			Kind:   string(params.Kind),
			Target: params.Target,
			Async:  params.Async,
		})
		return err
	})
	return out, err
}

// Action reads the outcome of a submitted action, waiting for it when wait is set.
func (a *App) Action(ctx context.Context, actionID string, wait bool, timeout time.Duration) (model.ActionOutcome, error) {
	if err := requireTimeout(timeout); err != nil {
		return model.ActionOutcome{}, err
	}
	var out model.ActionOutcome
	err := a.withClient(ctx, timeout, func(ctx context.Context, client *rpc.Client) error {
		var err error
		out, err = client.Action(ctx, rpc.ActionRequest{ActionID: actionID, Wait: wait})
		return err
	})
	return out, err
}

// Cancel asks the daemon to cancel a pending action.
func (a *App) Cancel(ctx context.Context, actionID string, timeout time.Duration) error {
	if err := requireTimeout(timeout); err != nil {
		return err
	}
	return a.withClient(ctx, timeout, func(ctx context.Context, client *rpc.Client) error {
		return client.Cancel(ctx, actionID)
	})
}

// Services lists systemd service units whose name or description contains query.
func (a *App) Services(ctx context.Context, query string, refresh bool, timeout time.Duration) ([]modules.Unit, error) {
	if err := requireTimeout(timeout); err != nil {
		return nil, err
	}
	var units []modules.Unit
	err := a.withClient(ctx, timeout, func(ctx context.Context, client *rpc.Client) error {
		resp, err := client.Services(ctx, rpc.ServicesRequest{Query: query, Refresh: refresh})
		if err != nil {
			return fmt.Errorf("daemon services RPC failed: %w", err)
		}
		units = resp.Units
		return nil
	})
	return units, err
}

// ServiceLogs returns the last lines of a unit's journal.
func (a *App) ServiceLogs(ctx context.Context, unit string, lines int, timeout time.Duration) (string, error) {
	if err := requireTimeout(timeout); err != nil {
		return "", err
	}
	var text string
	err := a.withClient(ctx, timeout, func(ctx context.Context, client *rpc.Client) error {
		var err error
		text, err = client.ServiceLogs(ctx, rpc.ServiceLogsRequest{Unit: unit, Lines: lines})
		return err
	})
	return text, err
}

// CleanScan measures every cleanup category.
func (a *App) CleanScan(ctx context.Context, rescan bool, timeout time.Duration) ([]modules.CleanupItem, error) {
	if err := requireTimeout(timeout); err != nil {
		return nil, err
	}
	var items []modules.CleanupItem
	err := a.withClient(ctx, timeout, func(ctx context.Context, client *rpc.Client) error {
		resp, err := client.CleanScan(ctx, rescan)
		if err != nil {
			return fmt.Errorf("daemon clean scan RPC failed: %w", err)
		}
		items = resp.Items
		return nil
	})
	return items, err
}

// Clean runs the actions of one cleanup category.
func (a *App) Clean(ctx context.Context, category string, timeout time.Duration) ([]model.ActionOutcome, error) {
	if err := requireTimeout(timeout); err != nil {
		return nil, err
	}
	if _, err := modules.ParseCategory(category); err != nil {
		return nil, err
	}
	var outs []model.ActionOutcome
	err := a.withClient(ctx, timeout, func(ctx context.Context, client *rpc.Client) error {
		var err error
		outs, err = client.Clean(ctx, category)
		return err
	})
	return outs, err
}

// Packages returns package statistics and the upgradable set.
func (a *App) Packages(ctx context.Context, refresh bool, timeout time.Duration) (rpc.PackagesReply, error) {
	if err := requireTimeout(timeout); err != nil {
		return rpc.PackagesReply{}, err
	}
	var resp rpc.PackagesReply
	err := a.withClient(ctx, timeout, func(ctx context.Context, client *rpc.Client) error {
		var err error
		resp, err = client.Packages(ctx, refresh)
		if err != nil {
			return fmt.Errorf("daemon packages RPC failed: %w", err)
		}
		return nil
	})
	return resp, err
}

// SearchPackages looks packages up in the APT cache.
func (a *App) SearchPackages(ctx context.Context, query string, timeout time.Duration) ([]modules.Package, error) {
	if err := requireTimeout(timeout); err != nil {
		return nil, err
	}
	var pkgs []modules.Package
	err := a.withClient(ctx, timeout, func(ctx context.Context, client *rpc.Client) error {
		resp, err := client.Search(ctx, query)
		if err != nil {
			return fmt.Errorf("daemon search RPC failed: %w", err)
		}
		pkgs = resp.Packages
		return nil
	})
	return pkgs, err
}
