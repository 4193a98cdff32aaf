package registry

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"sysmate/internal/model"
)

// ErrNotFound is returned by Get for identities the registry does not hold.
var ErrNotFound = errors.New("process not found")

// Registry is the authoritative view of what exists now. It has exactly one
// writer (see Writer); readers load the current snapshot atomically and get
// copies, so they never observe a partially applied tick and never block
// the writer.
type Registry struct {
	cur atomic.Pointer[Snapshot]
}

// Writer is the mutation capability for a Registry. Only the monitor loop
// holds it.
type Writer struct {
	r *Registry
}

// New returns an empty registry together with its single writer.
func New() (*Registry, *Writer) {
	r := &Registry{}
	r.cur.Store(&Snapshot{index: map[model.ProcessIdentity]int{}})
	return r, &Writer{r: r}
}

// Publish replaces the current snapshot. Views are re-sorted and duplicate
// identities are rejected, so the registry never holds two entries for one
// identity even if a caller misbehaves.
func (w *Writer) Publish(tick uint64, at time.Time, views []model.ProcessView, system model.SystemView) error {
	sorted := slices.Clone(views)
	slices.SortFunc(sorted, byUsage)

	index := make(map[model.ProcessIdentity]int, len(sorted))
	for i, v := range sorted {
		if _, dup := index[v.Identity]; dup {
			return fmt.Errorf("publish tick %d: duplicate identity %s", tick, v.Identity)
		}
		index[v.Identity] = i
	}

	w.r.cur.Store(&Snapshot{
		Tick:   tick,
		At:     at,
		System: system,
		views:  sorted,
		index:  index,
	})
	return nil
}

// MarkStale records consecutive sampling failures on the current snapshot
// without changing its views.
func (w *Writer) MarkStale(failures int, stale bool) {
	prev := w.r.cur.Load()
	next := *prev
	next.Failures = failures
	next.Stale = stale
	w.r.cur.Store(&next)
}

// GetAll returns every view ordered by resource usage, descending.
func (r *Registry) GetAll() []model.ProcessView {
	return slices.Clone(r.cur.Load().views)
}

// Get returns the view for id or ErrNotFound.
func (r *Registry) Get(id model.ProcessIdentity) (model.ProcessView, error) {
	s := r.cur.Load()
	i, ok := s.index[id]
	if !ok {
		return model.ProcessView{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.views[i], nil
}

// Active reports whether id is present and not yet Gone.
func (r *Registry) Active(id model.ProcessIdentity) bool {
	v, err := r.Get(id)
	return err == nil && v.State == model.Active
}

// FindPID returns the active identities currently using pid. More than one
// is only possible transiently around PID reuse.
func (r *Registry) FindPID(pid int32) []model.ProcessIdentity {
	var out []model.ProcessIdentity
	for _, v := range r.cur.Load().views {
		if v.Identity.PID == pid && v.State == model.Active {
			out = append(out, v.Identity)
		}
	}
	return out
}

// Meta summarizes the current snapshot.
func (r *Registry) Meta() Meta {
	s := r.cur.Load()
	m := Meta{Tick: s.Tick, At: s.At, Stale: s.Stale, Failures: s.Failures, System: s.System}
	for _, v := range s.views {
		if v.State == model.Active {
			m.Active++
		} else {
			m.Gone++
		}
	}
	return m
}

// List returns matching views in registry order.
func (r *Registry) List(f ListFilter) []model.ProcessView {
	views := r.cur.Load().views
	out := make([]model.ProcessView, 0, len(views))

	pidSet := toSet(f.PIDs)
	idSet := toSet(f.Identities)
	userSet := toSet(f.Users)
	needle := strings.ToLower(strings.TrimSpace(f.NameContains))

	for _, v := range views {
		if f.ActiveOnly && v.State != model.Active {
			continue
		}
		if len(pidSet) > 0 && !has(pidSet, v.Identity.PID) {
			continue
		}
		if len(idSet) > 0 && !has(idSet, v.Identity) {
			continue
		}
		if len(userSet) > 0 && !has(userSet, v.User) {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(v.Name), needle) && !strings.Contains(strings.ToLower(v.Cmdline), needle) {
			continue
		}
		out = append(out, v)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// byUsage orders by CPU, then resident memory, both descending; identity
// breaks ties so the order is deterministic.
func byUsage(a, b model.ProcessView) int {
	if c := cmp.Compare(b.CPUPercent, a.CPUPercent); c != 0 {
		return c
	}
	if c := cmp.Compare(b.RSSBytes, a.RSSBytes); c != 0 {
		return c
	}
	return a.Identity.Compare(b.Identity)
}

func toSet[T comparable](xs []T) map[T]struct{} {
	m := make(map[T]struct{}, len(xs))
	for _, x := range xs {
		m[x] = struct{}{}
	}
	return m
}

func has[T comparable](m map[T]struct{}, v T) bool {
	_, ok := m[v]
	return ok
}
