// Package delta turns consecutive raw snapshots into rate-based views and
// tracks process identity across ticks.
//
// Reconcile is a pure function of its inputs: the previous State is never
// modified, so a failed or abandoned tick leaves the caller's state intact.
package delta

import (
	"fmt"
	"slices"
	"time"

	"sysmate/internal/logging"
	"sysmate/internal/metrics"
	"sysmate/internal/model"
	"sysmate/internal/sampler"
)

// DuplicateSampleError reports raw samples that mapped to an identity
// already present in the same tick. The first sample wins.
type DuplicateSampleError struct {
	Identity  model.ProcessIdentity
	Discarded int
}

func (e *DuplicateSampleError) Error() string {
	return fmt.Sprintf("duplicate samples for %s: discarded %d", e.Identity, e.Discarded)
}

// Options configures an Engine.
type Options struct {
	// MissingTicks is the number of consecutive absent ticks after which a
	// process is considered ended.
	MissingTicks int
	// GracePeriod keeps Gone views visible before they are purged.
	GracePeriod time.Duration
	// ClockTicks is the kernel USER_HZ used to turn tick rates into CPU %.
	ClockTicks int
	Logger     logging.Logger
	Metrics    *metrics.Metrics
}

// Engine reconciles snapshots. It holds no per-tick state itself.
type Engine struct {
	missingTicks int
	grace        time.Duration
	clockTicks   float64
	log          logging.Logger
	metrics      *metrics.Metrics
}

// New returns an Engine with defaults applied.
func New(opts Options) *Engine {
	if opts.MissingTicks < 1 {
		opts.MissingTicks = 2
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	if opts.ClockTicks <= 0 {
		opts.ClockTicks = 100
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Engine{
		missingTicks: opts.MissingTicks,
		grace:        opts.GracePeriod,
		clockTicks:   float64(opts.ClockTicks),
		log:          opts.Logger,
		metrics:      opts.Metrics,
	}
}

type entry struct {
	view model.ProcessView
	last model.ResourceSample
}

// State is the engine's memory between ticks.
type State struct {
	tick       uint64
	at         time.Time
	entries    map[model.ProcessIdentity]entry
	lastSystem model.SystemSample
	system     model.SystemView
}

// NewState returns the empty state before the first tick.
func NewState() State {
	return State{entries: make(map[model.ProcessIdentity]entry)}
}

// Tick is the number of reconciled ticks.
func (s State) Tick() uint64 { return s.tick }

// At is the timestamp of the last reconciled snapshot.
func (s State) At() time.Time { return s.at }

// Len is the number of tracked identities, Gone ones included.
func (s State) Len() int { return len(s.entries) }

// System returns the last machine-wide view.
func (s State) System() model.SystemView { return s.system }

// Views returns a copy of every tracked view, ordered by identity.
func (s State) Views() []model.ProcessView {
	out := make([]model.ProcessView, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.view)
	}
	slices.SortFunc(out, func(a, b model.ProcessView) int { return a.Identity.Compare(b.Identity) })
	return out
}

// View returns the view for id.
func (s State) View(id model.ProcessIdentity) (model.ProcessView, bool) {
	e, ok := s.entries[id]
	return e.view, ok
}

func (s State) clone() State {
	next := s
	next.entries = make(map[model.ProcessIdentity]entry, len(s.entries))
	for id, e := range s.entries {
		next.entries[id] = e
	}
	return next
}

// Reconcile folds one snapshot into prev. It returns the new state, the
// change events of the tick in identity order, and non-fatal diagnostics
// (currently only *DuplicateSampleError).
func (e *Engine) Reconcile(prev State, snap sampler.Snapshot) (State, []model.ChangeEvent, []error) {
	if prev.entries == nil {
		prev = NewState()
	}
	at := snap.At
	next := State{
		tick:    prev.tick + 1,
		at:      at,
		entries: make(map[model.ProcessIdentity]entry, len(snap.Processes)),
	}

	current, diags := e.indexSamples(snap.Processes)

	// A PID seen now with a new start time proves the older instance exited.
	reusedPIDs := make(map[int32]model.ProcessIdentity)
	for id := range current {
		reusedPIDs[id.PID] = id
	}

	var events []model.ChangeEvent
	for _, s := range snap.Processes {
		if _, keep := current[s.Identity]; !keep {
			continue
		}
		cur := current[s.Identity]
		delete(current, s.Identity)

		old, seen := prev.entries[s.Identity]
		if seen && old.view.State == model.Active {
			view := e.advance(old, cur)
			next.entries[s.Identity] = entry{view: view, last: cur}
			events = append(events, event(model.EventUpdated, next.tick, at, view))
			continue
		}
		view := model.ProcessView{
			Identity:  cur.Identity,
			Name:      cur.Name,
			Cmdline:   cur.Cmdline,
			User:      cur.User,
			State:     model.Active,
			RSSBytes:  cur.RSSBytes,
			FirstSeen: cur.At,
			LastSeen:  cur.At,
		}
		next.entries[s.Identity] = entry{view: view, last: cur}
		events = append(events, event(model.EventAppeared, next.tick, at, view))
	}

	for _, id := range sortedIDs(prev.entries) {
		if _, present := next.entries[id]; present {
			continue
		}
		old := prev.entries[id]
		if old.view.State == model.Gone {
			if at.Sub(old.view.GoneAt) >= e.grace {
				continue
			}
			next.entries[id] = old
			continue
		}

		view := old.view
		view.MissingTicks++
		newer, reused := reusedPIDs[id.PID]
		if view.MissingTicks >= e.missingTicks || (reused && newer != id) {
			view = markGone(view, at)
			next.entries[id] = entry{view: view, last: old.last}
			events = append(events, event(model.EventEnded, next.tick, at, view))
			continue
		}
		next.entries[id] = entry{view: view, last: old.last}
	}

	next.lastSystem, next.system = prev.lastSystem, prev.system
	if snap.System.Valid {
		next.system = systemView(prev.lastSystem, snap.System)
		next.lastSystem = snap.System
	}

	slices.SortStableFunc(events, func(a, b model.ChangeEvent) int {
		return a.Process.Identity.Compare(b.Process.Identity)
	})
	return next, events, diags
}

// ReconcileOne folds a targeted re-sample of id into prev without touching
// other identities. A nil sample means a live probe confirmed the process is
// gone, which ends it immediately instead of waiting out the debounce.
func (e *Engine) ReconcileOne(prev State, id model.ProcessIdentity, sample *model.ResourceSample) (State, []model.ChangeEvent) {
	old, seen := prev.entries[id]
	if sample == nil {
		if !seen || old.view.State == model.Gone {
			return prev, nil
		}
		next := prev.clone()
		view := markGone(old.view, latest(prev.at, old.last.At))
		next.entries[id] = entry{view: view, last: old.last}
		return next, []model.ChangeEvent{event(model.EventEnded, prev.tick, view.GoneAt, view)}
	}
	if sample.Identity != id {
		return prev, nil
	}

	next := prev.clone()
	if seen && old.view.State == model.Active {
		view := e.advance(old, *sample)
		next.entries[id] = entry{view: view, last: *sample}
		return next, []model.ChangeEvent{event(model.EventUpdated, prev.tick, sample.At, view)}
	}
	view := model.ProcessView{
		Identity:  id,
		Name:      sample.Name,
		Cmdline:   sample.Cmdline,
		User:      sample.User,
		State:     model.Active,
		RSSBytes:  sample.RSSBytes,
		FirstSeen: sample.At,
		LastSeen:  sample.At,
	}
	next.entries[id] = entry{view: view, last: *sample}
	return next, []model.ChangeEvent{event(model.EventAppeared, prev.tick, sample.At, view)}
}

func (e *Engine) indexSamples(samples []model.ResourceSample) (map[model.ProcessIdentity]model.ResourceSample, []error) {
	current := make(map[model.ProcessIdentity]model.ResourceSample, len(samples))
	var dups map[model.ProcessIdentity]int
	for _, s := range samples {
		if _, ok := current[s.Identity]; ok {
			if dups == nil {
				dups = make(map[model.ProcessIdentity]int)
			}
			dups[s.Identity]++
			continue
		}
		current[s.Identity] = s
	}
	if len(dups) == 0 {
		return current, nil
	}

	diags := make([]error, 0, len(dups))
	total := 0
	for _, id := range sortedIDs(dups) {
		err := &DuplicateSampleError{Identity: id, Discarded: dups[id]}
		e.log.Warn("discarding duplicate samples", logging.String("identity", id.String()), logging.Int("discarded", dups[id]))
		diags = append(diags, err)
		total += dups[id]
	}
	e.metrics.DuplicateSamples(total)
	return current, diags
}

// advance derives rates from the previous observation to cur.
func (e *Engine) advance(old entry, cur model.ResourceSample) model.ProcessView {
	view := old.view
	view.Name = cur.Name
	view.Cmdline = cur.Cmdline
	view.User = cur.User
	view.RSSBytes = cur.RSSBytes
	view.LastSeen = cur.At
	view.MissingTicks = 0

	elapsed := cur.At.Sub(old.last.At).Seconds()
	if elapsed <= 0 {
		return view
	}
	view.CPUPercent = rate(cur.CPUTicks, old.last.CPUTicks, elapsed) / e.clockTicks * 100
	view.DiskReadBps = rate(cur.DiskReadBytes, old.last.DiskReadBytes, elapsed)
	view.DiskWriteBps = rate(cur.DiskWriteBytes, old.last.DiskWriteBytes, elapsed)
	view.NetRxBps = rate(cur.NetRxBytes, old.last.NetRxBytes, elapsed)
	view.NetTxBps = rate(cur.NetTxBytes, old.last.NetTxBytes, elapsed)
	return view
}

// rate is (cur-prev)/seconds, clamped at zero: counters that go backwards
// (wraparound, kernel anomalies) report no activity rather than an error.
func rate(cur, prev uint64, seconds float64) float64 {
	if cur <= prev || seconds <= 0 {
		return 0
	}
	return float64(cur-prev) / seconds
}

func systemView(prev, cur model.SystemSample) model.SystemView {
	v := model.SystemView{
		At:            cur.At,
		Valid:         true,
		NumCPU:        cur.NumCPU,
		MemUsedBytes:  cur.MemUsedBytes,
		MemTotalBytes: cur.MemTotalBytes,
		Load1:         cur.Load1,
		Load5:         cur.Load5,
		Load15:        cur.Load15,
		UptimeSeconds: cur.UptimeSeconds,
	}
	if cur.MemTotalBytes > 0 {
		v.MemPercent = float64(cur.MemUsedBytes) / float64(cur.MemTotalBytes) * 100
	}
	if cur.SwapTotalBytes > 0 {
		v.SwapPercent = float64(cur.SwapUsedBytes) / float64(cur.SwapTotalBytes) * 100
	}
	if !prev.Valid {
		return v
	}
	if total := cur.CPUTotalSeconds - prev.CPUTotalSeconds; total > 0 {
		busy := cur.CPUBusySeconds - prev.CPUBusySeconds
		if busy > 0 {
			v.CPUPercent = min(busy/total*100, 100)
		}
	}
	elapsed := cur.At.Sub(prev.At).Seconds()
	v.DiskReadBps = rate(cur.DiskReadBytes, prev.DiskReadBytes, elapsed)
	v.DiskWriteBps = rate(cur.DiskWriteBytes, prev.DiskWriteBytes, elapsed)
	v.NetRxBps = rate(cur.NetRxBytes, prev.NetRxBytes, elapsed)
	v.NetTxBps = rate(cur.NetTxBytes, prev.NetTxBytes, elapsed)
	return v
}

func markGone(view model.ProcessView, at time.Time) model.ProcessView {
	view.State = model.Gone
	view.GoneAt = at
	view.CPUPercent = 0
	view.DiskReadBps = 0
	view.DiskWriteBps = 0
	view.NetRxBps = 0
	view.NetTxBps = 0
	return view
}

func event(kind model.EventKind, tick uint64, at time.Time, view model.ProcessView) model.ChangeEvent {
	return model.ChangeEvent{Tick: tick, Kind: kind, At: at, Process: view}
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func sortedIDs[V any](m map[model.ProcessIdentity]V) []model.ProcessIdentity {
	ids := make([]model.ProcessIdentity, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b model.ProcessIdentity) int { return a.Compare(b) })
	return ids
}
