// Package monitor owns the sampling cadence. Each tick it samples, folds the
// samples into the delta state, publishes the result to the registry and
// fans the tick's events out on the bus before the next sample is taken.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sysmate/internal/delta"
	"sysmate/internal/logging"
	"sysmate/internal/metrics"
	"sysmate/internal/model"
	"sysmate/internal/registry"
	"sysmate/internal/sampler"
)

// Sampler is the read side of the OS the monitor drives.
type Sampler interface {
	Sample(ctx context.Context) (sampler.Snapshot, error)
	SampleOne(ctx context.Context, id model.ProcessIdentity) (model.ResourceSample, error)
}

// Publisher receives each tick's events. The bus implements it.
type Publisher interface {
	Publish(tick uint64, events []model.ChangeEvent)
}

// ErrStopped is returned by refresh requests made after Run has returned.
var ErrStopped = errors.New("monitor: not running")

// Options configures a Monitor.
type Options struct {
	Interval   time.Duration
	StaleAfter int
	Logger     logging.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

type refreshRequest struct {
	ctx   context.Context
	id    model.ProcessIdentity
	all   bool
	reply chan error
}

// Monitor is the registry's single writer.
type Monitor struct {
	sampler Sampler
	engine  *delta.Engine
	writer  *registry.Writer
	pub     Publisher
	opts    Options
	log     logging.Logger

	refresh chan refreshRequest
	stopped chan struct{}

	// Owned by the Run goroutine.
	state    delta.State
	failures int
}

// New wires a monitor. pub may be nil when nothing consumes events.
func New(s Sampler, engine *delta.Engine, w *registry.Writer, pub Publisher, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 3
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		sampler: s,
		engine:  engine,
		writer:  w,
		pub:     pub,
		opts:    opts,
		log:     opts.Logger,
		refresh: make(chan refreshRequest),
		stopped: make(chan struct{}),
		state:   delta.NewState(),
	}
}

// Run samples immediately and then on every interval until ctx is done.
// Refresh requests are served between ticks on the same goroutine.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.stopped)
	m.log.Info("monitor started", logging.Duration("interval", m.opts.Interval))

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	_ = m.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("monitor stopped")
			return nil
		case <-ticker.C:
			_ = m.tick(ctx)
		case req := <-m.refresh:
			req.reply <- m.serve(req)
		}
	}
}

// tick runs one sample/reconcile/publish cycle. Failures are absorbed: the
// registry keeps its previous views and is marked stale once failures
// persist.
func (m *Monitor) tick(ctx context.Context) error {
	start := m.opts.Now()
	snap, err := m.sampler.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.sampleFailed(err)
		return err
	}

	next, events, diags := m.engine.Reconcile(m.state, snap)
	for _, d := range diags {
		m.log.Warn("sample discarded", logging.Err(d), logging.Uint64("tick", next.Tick()))
	}
	if err := m.commit(next, events); err != nil {
		m.sampleFailed(err)
		return err
	}

	if m.failures > 0 {
		m.log.Info("sampling recovered", logging.Int("failed_ticks", m.failures))
	}
	m.failures = 0
	m.opts.Metrics.SetStale(false)
	m.opts.Metrics.ObserveTick(m.opts.Now().Sub(start))
	return nil
}

// commit publishes next to the registry, then the events to the bus. The
// delta state only advances if the registry accepted it.
func (m *Monitor) commit(next delta.State, events []model.ChangeEvent) error {
	views := next.Views()
	if err := m.writer.Publish(next.Tick(), next.At(), views, next.System()); err != nil {
		return fmt.Errorf("publish registry: %w", err)
	}
	m.state = next

	active, gone := 0, 0
	for _, v := range views {
		if v.State == model.Active {
			active++
		} else {
			gone++
		}
	}
	m.opts.Metrics.SetTracked(active, gone)

	if m.pub != nil && len(events) > 0 {
		m.pub.Publish(next.Tick(), events)
	}
	return nil
}

func (m *Monitor) sampleFailed(err error) {
	m.failures++
	stale := m.failures >= m.opts.StaleAfter
	m.writer.MarkStale(m.failures, stale)
	m.opts.Metrics.SetStale(stale)

	reason := "error"
	if errors.Is(err, sampler.ErrSampleTimeout) {
		reason = "timeout"
	}
	m.opts.Metrics.SampleFailed(reason)
	m.log.Warn("tick skipped", logging.Err(err), logging.Int("consecutive_failures", m.failures))
	if stale && m.failures == m.opts.StaleAfter {
		m.log.Error("registry is stale", err, logging.Int("consecutive_failures", m.failures))
	}
}

func (m *Monitor) serve(req refreshRequest) error {
	if req.all {
		return m.tick(req.ctx)
	}
	sample, err := m.sampler.SampleOne(req.ctx, req.id)
	var next delta.State
	var events []model.ChangeEvent
	switch {
	case err == nil:
		next, events = m.engine.ReconcileOne(m.state, req.id, &sample)
	case errors.Is(err, sampler.ErrProcessGone):
		next, events = m.engine.ReconcileOne(m.state, req.id, nil)
	default:
		return fmt.Errorf("refresh %s: %w", req.id, err)
	}
	if len(events) == 0 {
		return nil
	}
	return m.commit(next, events)
}

// RefreshProcess re-samples one identity out of cadence so the effect of an
// action shows up without waiting for the next tick.
func (m *Monitor) RefreshProcess(ctx context.Context, id model.ProcessIdentity) error {
	return m.request(ctx, refreshRequest{ctx: ctx, id: id})
}

// RefreshAll runs an extra full tick.
func (m *Monitor) RefreshAll(ctx context.Context) error {
	return m.request(ctx, refreshRequest{ctx: ctx, all: true})
}

func (m *Monitor) request(ctx context.Context, req refreshRequest) error {
	req.reply = make(chan error, 1)
	select {
	case m.refresh <- req:
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
