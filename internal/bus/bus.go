// Package bus fans reconciled change events out to feature modules and
// carries their privileged requests to the dispatcher.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sysmate/internal/dispatch"
	"sysmate/internal/logging"
	"sysmate/internal/metrics"
	"sysmate/internal/model"
	"sysmate/internal/names"
)

var (
	ErrBusClosed   = errors.New("bus: closed")
	ErrRateLimited = errors.New("bus: action rate limit exceeded")
)

// Dispatcher is the part of the privileged dispatcher the bus needs.
type Dispatcher interface {
	Submit(ctx context.Context, action dispatch.PrivilegedAction) (dispatch.Report, error)
}

// Options tunes a Bus.
type Options struct {
	// Backlog bounds each subscription's queue.
	Backlog     int
	ActionRate  float64
	ActionBurst int
	Logger      logging.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Bus is safe for concurrent use. Publish is called only by the monitor loop.
type Bus struct {
	dispatcher Dispatcher
	opts       Options
	log        logging.Logger
	now        func() time.Time

	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	limiters map[string]*rate.Limiter
	seq      uint64
	tick     uint64
	closed   bool
}

// New creates a bus that forwards actions to d.
func New(d Dispatcher, opts Options) *Bus {
	if opts.Backlog <= 0 {
		opts.Backlog = 1024
	}
	if opts.ActionRate <= 0 {
		opts.ActionRate = 2
	}
	if opts.ActionBurst <= 0 {
		opts.ActionBurst = 4
	}
	b := &Bus{
		dispatcher: d,
		opts:       opts,
		log:        opts.Logger,
		now:        opts.Now,
		subs:       make(map[*Subscription]struct{}),
		limiters:   make(map[string]*rate.Limiter),
	}
	if b.log == nil {
		b.log = logging.Nop()
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Subscribe registers a module's interest. A module may hold several
// subscriptions; each receives its own copy of every matching event.
func (b *Bus) Subscribe(moduleID string, f Filter) (*Subscription, error) {
	id, err := names.ModuleID(moduleID)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	sub := newSubscription(b, id, f, b.opts.Backlog)
	b.subs[sub] = struct{}{}
	b.opts.Metrics.SetSubscribers(len(b.subs))
	b.log.Debug("module subscribed", logging.String("module", id))
	return sub, nil
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
	b.opts.Metrics.SetSubscribers(len(b.subs))
}

// Publish enqueues one tick's events on every matching subscription. It
// returns only after every subscription holds the tick's events, so a tick
// is fully fanned out before the caller samples again.
func (b *Bus) Publish(tick uint64, events []model.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.tick = tick
	for _, ev := range events {
		b.seq++
		ev.Seq = b.seq
		ev.Tick = tick
		b.fanOutLocked(ev)
	}
}

// fanOutLocked requires b.mu.
func (b *Bus) fanOutLocked(ev model.ChangeEvent) {
	resync := func() model.ChangeEvent {
		b.seq++
		return model.ChangeEvent{Seq: b.seq, Tick: b.tick, Kind: model.EventResync, At: b.now()}
	}
	for sub := range b.subs {
		if !sub.filter.Match(sub.module, ev) {
			continue
		}
		if dropped := sub.enqueue(ev, resync); dropped > 0 {
			b.opts.Metrics.EventsDropped(sub.module, dropped)
			b.log.Warn("subscriber backlog overflowed, resync queued",
				logging.String("module", sub.module), logging.Int("dropped", dropped))
		}
	}
}

// PublishAction hands action to the dispatcher on behalf of its requesting
// module and broadcasts the result as an ActionResult event. The dispatch
// error, if any, is returned unchanged.
func (b *Bus) PublishAction(ctx context.Context, action dispatch.PrivilegedAction) (dispatch.Report, error) {
	if err := b.allow(action.RequestedBy()); err != nil {
		return dispatch.Report{Action: action, Err: err}, err
	}
	report, err := b.dispatcher.Submit(ctx, action)
	if report.State == "" {
		// Rejected before a lifecycle began; nothing to broadcast.
		return report, err
	}

	b.mu.Lock()
	if !b.closed {
		b.seq++
		b.fanOutLocked(model.ChangeEvent{
			Seq:    b.seq,
			Tick:   b.tick,
			Kind:   model.EventActionResult,
			At:     b.now(),
			Action: report.Outcome(),
		})
	}
	b.mu.Unlock()
	return report, err
}

func (b *Bus) allow(module string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	lim, ok := b.limiters[module]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(b.opts.ActionRate), b.opts.ActionBurst)
		b.limiters[module] = lim
	}
	b.mu.Unlock()
	if !lim.Allow() {
		b.log.Warn("action rejected by rate limit", logging.String("module", module))
		return fmt.Errorf("%w for module %s", ErrRateLimited, module)
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription and rejects further use.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}
