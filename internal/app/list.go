package app

import (
	"context"
	"fmt"
	"time"

	"sysmate/internal/model"
	"sysmate/internal/rpc"
)

// ListParams defines filters, ordering and timeout.
type ListParams struct {
	Filters ListFilters
	// Sort is cpu, mem, pid or name.
	Sort    string
	Limit   int
	Timeout time.Duration
}

// List fetches registry entries matching the provided filters.
func (a *App) List(ctx context.Context, params ListParams) (Snapshot, error) {
	if err := requireTimeout(params.Timeout); err != nil {
		return Snapshot{}, err
	}
	req, err := params.Filters.buildRequest()
	if err != nil {
		return Snapshot{}, err
	}
	if params.Limit < 0 {
		return Snapshot{}, fmt.Errorf("invalid limit: %d", params.Limit)
	}
	req.Sort = params.Sort
	req.Limit = params.Limit

	var snap Snapshot
	err = a.withClient(ctx, params.Timeout, func(ctx context.Context, client *rpc.Client) error {
		resp, err := client.List(ctx, req)
		if err != nil {
			return fmt.Errorf("daemon list RPC failed: %w", err)
		}
		snap = Snapshot{Meta: resp.Meta, Processes: resp.Processes}
		return nil
	})
	return snap, err
}

// Process returns one registry entry by identity ("pid@start") or pid.
func (a *App) Process(ctx context.Context, ref string, timeout time.Duration) (model.ProcessView, error) {
	if err := requireTimeout(timeout); err != nil {
		return model.ProcessView{}, err
	}
	req, err := processRef(ref)
	if err != nil {
		return model.ProcessView{}, err
	}
	var view model.ProcessView
	err = a.withClient(ctx, timeout, func(ctx context.Context, client *rpc.Client) error {
		view, err = client.Get(ctx, req)
		if err != nil {
			return fmt.Errorf("daemon get RPC failed: %w", err)
		}
		return nil
	})
	return view, err
}
