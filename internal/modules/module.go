// Package modules holds the feature modules the daemon hosts on the bus:
// task manager, system cleaner, service manager and package manager. Each
// reads the registry, reacts to change events and submits privileged actions
// under its own module id.
package modules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"sysmate/internal/bus"
	"sysmate/internal/dispatch"
	"sysmate/internal/logging"
	"sysmate/internal/model"
	"sysmate/internal/registry"
)

const historySize = 32

// ErrNotReady is returned when a module is asked to act before the host has
// started it.
var ErrNotReady = errors.New("module not running")

// base carries what every module shares: its port onto the bus and a short
// history of its own action results.
type base struct {
	id  string
	log logging.Logger

	mu      sync.Mutex
	port    *bus.Port
	ready   chan struct{}
	history []model.ActionOutcome
}

func newBase(id string, log logging.Logger) base {
	if log == nil {
		log = logging.Nop()
	}
	return base{id: id, log: log.With(logging.String("module", id)), ready: make(chan struct{})}
}

func (b *base) ID() string { return b.id }

func (b *base) attach(p *bus.Port) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port != nil {
		return
	}
	b.port = p
	close(b.ready)
}

func (b *base) waitPort(ctx context.Context) (*bus.Port, error) {
	select {
	case <-b.ready:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.port, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", b.id, ErrNotReady)
	}
}

func (b *base) registry() *registry.Registry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port == nil {
		return nil
	}
	return b.port.Registry
}

// prepare builds an action owned by this module without submitting it.
func (b *base) prepare(kind dispatch.Kind, target dispatch.Target) (dispatch.PrivilegedAction, error) {
	return dispatch.NewAction(kind, target, b.id)
}

func (b *base) dispatch(ctx context.Context, action dispatch.PrivilegedAction) (dispatch.Report, error) {
	port, err := b.waitPort(ctx)
	if err != nil {
		return dispatch.Report{Action: action, Err: err}, err
	}
	return port.Resubmit(ctx, action)
}

func (b *base) submit(ctx context.Context, kind dispatch.Kind, target dispatch.Target) (dispatch.Report, error) {
	action, err := b.prepare(kind, target)
	if err != nil {
		return dispatch.Report{Err: err}, err
	}
	return b.dispatch(ctx, action)
}

func (b *base) record(out model.ActionOutcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, out)
	if len(b.history) > historySize {
		b.history = append(b.history[:0:0], b.history[len(b.history)-historySize:]...)
	}
}

// History returns this module's most recent action results, oldest first.
func (b *base) History() []model.ActionOutcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.ActionOutcome(nil), b.history...)
}

// loop attaches the port and feeds every event to handle until the stream ends.
func (b *base) loop(ctx context.Context, port *bus.Port, handle func(model.ChangeEvent)) error {
	b.attach(port)
	b.log.Info("module running")
	for ev, err := range port.Events.Events(ctx) {
		if err != nil {
			return err
		}
		handle(ev)
		if ev.Kind == model.EventActionResult && ev.Action.RequestedBy == b.id {
			b.record(ev.Action)
		}
	}
	return nil
}

// Set routes requests to the module that owns each action kind.
type Set struct {
	Tasks    *TaskManager
	Cleaner  *Cleaner
	Services *ServiceManager
	Packages *PackageManager
}

// All returns the modules for bus hosting.
func (s *Set) All() []bus.Module {
	return []bus.Module{s.Tasks, s.Cleaner, s.Services, s.Packages}
}

func (s *Set) owner(kind dispatch.Kind) (*base, error) {
	switch k := string(kind); {
	case strings.HasSuffix(k, "-process"):
		return &s.Tasks.base, nil
	case strings.HasPrefix(k, "service-"):
		return &s.Services.base, nil
	case strings.HasPrefix(k, "package-"):
		return &s.Packages.base, nil
	case kind == dispatch.KindCleanPath, kind == dispatch.KindCleanPackageCache, kind == dispatch.KindVacuumJournal:
		return &s.Cleaner.base, nil
	}
	return nil, fmt.Errorf("no module owns action kind %q", kind)
}

// Prepare builds an action on behalf of the owning module, so callers can
// learn its id before dispatching it.
func (s *Set) Prepare(kind dispatch.Kind, target dispatch.Target) (dispatch.PrivilegedAction, error) {
	m, err := s.owner(kind)
	if err != nil {
		return dispatch.PrivilegedAction{}, err
	}
	return m.prepare(kind, target)
}

// Dispatch submits a prepared action through its owning module.
func (s *Set) Dispatch(ctx context.Context, action dispatch.PrivilegedAction) (dispatch.Report, error) {
	m, err := s.owner(action.Kind())
	if err != nil {
		return dispatch.Report{Action: action, Err: err}, err
	}
	return m.dispatch(ctx, action)
}
