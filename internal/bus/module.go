package bus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"sysmate/internal/dispatch"
	"sysmate/internal/logging"
	"sysmate/internal/registry"
)

// Module is a feature module hosted by the daemon.
type Module interface {
	ID() string
	Interest() Filter
	Run(ctx context.Context, port *Port) error
}

// Port is a module's view of the core: its event stream, read access to the
// registry and a way to request privileged actions.
type Port struct {
	Events   *Subscription
	Registry *registry.Registry
	bus      *Bus
}

// ID returns the owning module's id.
func (p *Port) ID() string { return p.Events.Module() }

// Submit builds an action on behalf of the module and dispatches it.
func (p *Port) Submit(ctx context.Context, kind dispatch.Kind, target dispatch.Target) (dispatch.Report, error) {
	action, err := dispatch.NewAction(kind, target, p.ID())
	if err != nil {
		return dispatch.Report{Err: err}, err
	}
	return p.bus.PublishAction(ctx, action)
}

// Resubmit dispatches a caller-built action, e.g. the result of Retry.
func (p *Port) Resubmit(ctx context.Context, action dispatch.PrivilegedAction) (dispatch.Report, error) {
	if action.RequestedBy() != p.ID() {
		return dispatch.Report{}, fmt.Errorf("module %s cannot submit on behalf of %s", p.ID(), action.RequestedBy())
	}
	return p.bus.PublishAction(ctx, action)
}

// Host runs modules until ctx is cancelled. A module that returns an error
// or panics is logged and stopped without affecting the others.
func (b *Bus) Host(ctx context.Context, reg *registry.Registry, modules ...Module) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range modules {
		sub, err := b.Subscribe(m.ID(), m.Interest())
		if err != nil {
			return fmt.Errorf("module %s: %w", m.ID(), err)
		}
		port := &Port{Events: sub, Registry: reg, bus: b}
		log := b.log.With(logging.String("module", m.ID()))
		g.Go(func() error {
			defer sub.Close()
			err := runModule(gctx, m, port)
			switch {
			case err == nil, errors.Is(err, context.Canceled), errors.Is(err, ErrClosed):
				log.Info("module stopped")
			default:
				log.Error("module failed", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func runModule(ctx context.Context, m Module, port *Port) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return m.Run(ctx, port)
}
