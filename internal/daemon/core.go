package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"sysmate/internal/bus"
	"sysmate/internal/config"
	"sysmate/internal/delta"
	"sysmate/internal/dispatch"
	"sysmate/internal/logging"
	"sysmate/internal/metrics"
	"sysmate/internal/model"
	"sysmate/internal/modules"
	"sysmate/internal/monitor"
	"sysmate/internal/registry"
	"sysmate/internal/sampler"
)

// Options supplies the collaborators a daemon would otherwise build from
// the host. Zero fields get the production defaults.
type Options struct {
	Version    string
	Logger     logging.Logger
	Metrics    *metrics.Metrics
	Source     sampler.Source
	Runner     dispatch.CommandRunner
	Authorizer dispatch.Authorizer
	Executor   dispatch.Executor
	// Home is scanned by the cleaner. Defaults to the daemon user's home.
	Home string
}

// core is the running monitoring stack: one monitor feeding the registry
// and the bus, the dispatcher behind it and the hosted feature modules.
type core struct {
	log     logging.Logger
	metrics *metrics.Metrics
	reg     *registry.Registry
	disp    *dispatch.Dispatcher
	bus     *bus.Bus
	mon     *monitor.Monitor
	mods    *modules.Set
}

// lateRefresher lets the dispatcher reach the monitor, which is built
// after the bus and therefore after the dispatcher.
type lateRefresher struct {
	mon *monitor.Monitor
}

func (r *lateRefresher) RefreshProcess(ctx context.Context, id model.ProcessIdentity) error {
	if r.mon == nil {
		return monitor.ErrStopped
	}
	return r.mon.RefreshProcess(ctx, id)
}

func (r *lateRefresher) RefreshAll(ctx context.Context) error {
	if r.mon == nil {
		return monitor.ErrStopped
	}
	return r.mon.RefreshAll(ctx)
}

func newCore(cfg config.Config, opts Options) (*core, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	if opts.Source == nil {
		opts.Source = sampler.NewGopsutilSource()
	}
	if opts.Runner == nil {
		opts.Runner = dispatch.ExecRunner{}
	}
	if opts.Authorizer == nil {
		auth, err := dispatch.NewAuthorizer(cfg.Authorizer, opts.Runner)
		if err != nil {
			return nil, err
		}
		opts.Authorizer = auth
	}
	if opts.Executor == nil {
		opts.Executor = dispatch.NewSystemExecutor(opts.Runner)
	}
	if opts.Home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		opts.Home = home
	}

	smp := sampler.New(opts.Source, sampler.Options{
		Timeout:    cfg.SampleTimeout,
		ClockTicks: cfg.ClockTicks,
		Logger:     log.With(logging.String("component", "sampler")),
	})
	engine := delta.New(delta.Options{
		MissingTicks: cfg.MissingTicks,
		GracePeriod:  cfg.GracePeriod,
		ClockTicks:   cfg.ClockTicks,
		Logger:       log.With(logging.String("component", "delta")),
		Metrics:      opts.Metrics,
	})
	reg, writer := registry.New()

	refresher := &lateRefresher{}
	disp, err := dispatch.New(dispatch.Options{
		Authorizer:  opts.Authorizer,
		Executor:    opts.Executor,
		Targets:     reg,
		Prober:      smp,
		Refresher:   refresher,
		CleanRoots:  cfg.CleanRoots,
		AuthTimeout: cfg.AuthTimeout,
		Logger:      log.With(logging.String("component", "dispatch")),
		Metrics:     opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	b := bus.New(disp, bus.Options{
		Backlog:     cfg.SubscriberBacklog,
		ActionRate:  cfg.ActionRate,
		ActionBurst: cfg.ActionBurst,
		Logger:      log.With(logging.String("component", "bus")),
		Metrics:     opts.Metrics,
	})
	mon := monitor.New(smp, engine, writer, b, monitor.Options{
		Interval:   cfg.TickInterval,
		StaleAfter: cfg.StaleAfter,
		Logger:     log.With(logging.String("component", "monitor")),
		Metrics:    opts.Metrics,
	})
	refresher.mon = mon

	modLog := log.With(logging.String("component", "modules"))
	mods := &modules.Set{
		Tasks:    modules.NewTaskManager(modLog),
		Cleaner:  modules.NewCleaner(opts.Home, modLog),
		Services: modules.NewServiceManager(opts.Runner, modLog),
		Packages: modules.NewPackageManager(opts.Runner, modLog),
	}

	return &core{
		log:     log,
		metrics: opts.Metrics,
		reg:     reg,
		disp:    disp,
		bus:     b,
		mon:     mon,
		mods:    mods,
	}, nil
}

// run blocks until ctx is done. The bus is closed on the way out so open
// Watch streams end.
func (c *core) run(ctx context.Context) error {
	defer c.bus.Close()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.mon.Run(gctx) })
	g.Go(func() error { return c.bus.Host(gctx, c.reg, c.mods.All()...) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *core) service(life context.Context, version string) *service {
	return &service{
		reg:     c.reg,
		actions: c.disp,
		bus:     c.bus,
		mods:    c.mods,
		log:     c.log.With(logging.String("component", "rpc")),
		version: version,
		life:    life,
	}
}
