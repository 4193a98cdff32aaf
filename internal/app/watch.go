package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"sysmate/internal/model"
	"sysmate/internal/rpc"
)

// WatchParams selects the events streamed by Watch.
type WatchParams struct {
	Kinds        []model.EventKind
	NameContains string
}

// Watch streams change events to fn until ctx is done, the daemon stops or
// fn returns an error.
func (a *App) Watch(ctx context.Context, params WatchParams, fn func(model.ChangeEvent) error) error {
	return a.withClient(ctx, 0, func(ctx context.Context, client *rpc.Client) error {
		stream, err := client.Watch(ctx, rpc.WatchRequest{Kinds: params.Kinds, NameContains: params.NameContains})
		if err != nil {
			return fmt.Errorf("daemon watch RPC failed: %w", err)
		}
		for {
			ev, err := stream.Recv()
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case err != nil && ctx.Err() != nil:
				return nil
			case err != nil:
				return fmt.Errorf("watch stream: %w", err)
			}
			if err := fn(ev); err != nil {
				return err
			}
		}
	})
}
