package bus

import (
	"context"
	"errors"
	"iter"
	"sync"

	"sysmate/internal/model"
)

// ErrClosed is returned once a subscription has been closed and drained.
var ErrClosed = errors.New("bus: subscription closed")

// Subscription is one module's ordered, bounded event queue.
type Subscription struct {
	bus    *Bus
	module string
	filter Filter
	limit  int

	mu      sync.Mutex
	queue   []model.ChangeEvent
	notify  chan struct{}
	closed  bool
	dropped uint64
}

func newSubscription(b *Bus, module string, f Filter, limit int) *Subscription {
	return &Subscription{
		bus:    b,
		module: module,
		filter: f,
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// Module returns the subscriber's module id.
func (s *Subscription) Module() string { return s.module }

// enqueue appends ev and returns how many queued events were dropped.
// On overflow the whole backlog is replaced by a single resync marker.
func (s *Subscription) enqueue(ev model.ChangeEvent, resync func() model.ChangeEvent) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	dropped := 0
	if len(s.queue) >= s.limit {
		dropped = len(s.queue) + 1
		s.queue = append(s.queue[:0], resync())
		s.dropped += uint64(dropped)
	} else {
		s.queue = append(s.queue, ev)
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Next blocks until an event is available, ctx is done or the subscription
// is closed. Events still queued at close are delivered before ErrClosed.
func (s *Subscription) Next(ctx context.Context) (model.ChangeEvent, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = model.ChangeEvent{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return model.ChangeEvent{}, ErrClosed
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return model.ChangeEvent{}, ctx.Err()
		}
	}
}

// Events returns a lazy sequence over the subscription. Breaking out of the
// loop leaves undelivered events queued, so ranging again resumes where the
// previous loop stopped. The sequence ends after yielding a non-nil error.
func (s *Subscription) Events(ctx context.Context) iter.Seq2[model.ChangeEvent, error] {
	return func(yield func(model.ChangeEvent, error) bool) {
		for {
			ev, err := s.Next(ctx)
			if err != nil {
				yield(model.ChangeEvent{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Dropped returns how many events overflowed this subscription's backlog.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
	s.bus.unsubscribe(s)
}
