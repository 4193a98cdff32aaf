package modules

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"sysmate/internal/bus"
	"sysmate/internal/dispatch"
	"sysmate/internal/logging"
	"sysmate/internal/model"
	"sysmate/internal/registry"
)

// SortKey orders the task manager's process table.
type SortKey string

const (
	SortCPU    SortKey = "cpu"
	SortMemory SortKey = "mem"
	SortPID    SortKey = "pid"
	SortName   SortKey = "name"
)

// ParseSortKey accepts the textual sort keys used by clients.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(s); k {
	case SortCPU, SortMemory, SortPID, SortName:
		return k, nil
	case "":
		return SortCPU, nil
	}
	return "", fmt.Errorf("unknown sort key %q (want cpu, mem, pid or name)", s)
}

// TaskManager lists processes and kills them.
type TaskManager struct {
	base

	mu sync.Mutex
	// killed holds identities signalled but not yet seen ending.
	killed map[model.ProcessIdentity]struct{}
	exited []model.ProcessIdentity
}

// recentExits bounds how many observed exits Exited remembers.
const recentExits = 64

func NewTaskManager(log logging.Logger) *TaskManager {
	return &TaskManager{base: newBase("taskmgr", log), killed: make(map[model.ProcessIdentity]struct{})}
}

func (m *TaskManager) Interest() bus.Filter {
	return bus.Filter{
		Kinds:          []model.EventKind{model.EventEnded, model.EventActionResult},
		OwnActionsOnly: true,
	}
}

func (m *TaskManager) Run(ctx context.Context, port *bus.Port) error {
	return m.loop(ctx, port, func(ev model.ChangeEvent) {
		if ev.Kind != model.EventEnded {
			return
		}
		m.mu.Lock()
		if _, waiting := m.killed[ev.Process.Identity]; waiting {
			delete(m.killed, ev.Process.Identity)
			m.exited = append(m.exited, ev.Process.Identity)
			if len(m.exited) > recentExits {
				m.exited = slices.Delete(m.exited, 0, len(m.exited)-recentExits)
			}
			m.log.Info("killed process exited", logging.String("process", ev.Process.Identity.String()), logging.String("name", ev.Process.Name))
		}
		m.mu.Unlock()
	})
}

// Top returns at most n active processes ordered by key.
func (m *TaskManager) Top(n int, key SortKey) []model.ProcessView {
	reg := m.registry()
	if reg == nil {
		return nil
	}
	views := reg.List(registry.ListFilter{ActiveOnly: true})
	SortViews(views, key)
	if n > 0 && len(views) > n {
		views = views[:n]
	}
	return views
}

// SortViews orders views in place by key. SortCPU keeps registry order,
// which already ranks by CPU then memory.
func SortViews(views []model.ProcessView, key SortKey) {
	switch key {
	case SortMemory:
		slices.SortStableFunc(views, func(a, b model.ProcessView) int {
			switch {
			case a.RSSBytes > b.RSSBytes:
				return -1
			case a.RSSBytes < b.RSSBytes:
				return 1
			}
			return a.Identity.Compare(b.Identity)
		})
	case SortPID:
		slices.SortStableFunc(views, func(a, b model.ProcessView) int { return a.Identity.Compare(b.Identity) })
	case SortName:
		slices.SortStableFunc(views, func(a, b model.ProcessView) int {
			if a.Name != b.Name {
				if a.Name < b.Name {
					return -1
				}
				return 1
			}
			return a.Identity.Compare(b.Identity)
		})
	}
}

// Resolve maps a bare pid to the single active identity using it.
func (m *TaskManager) Resolve(pid int32) (model.ProcessIdentity, error) {
	reg := m.registry()
	if reg == nil {
		return model.ProcessIdentity{}, ErrNotReady
	}
	var active []model.ProcessIdentity
	for _, id := range reg.FindPID(pid) {
		if reg.Active(id) {
			active = append(active, id)
		}
	}
	switch len(active) {
	case 0:
		return model.ProcessIdentity{}, fmt.Errorf("pid %d: %w", pid, registry.ErrNotFound)
	case 1:
		return active[0], nil
	}
	return model.ProcessIdentity{}, fmt.Errorf("pid %d is ambiguous (%d live identities)", pid, len(active))
}

// Kill asks the dispatcher to terminate id, with SIGKILL when force is set.
func (m *TaskManager) Kill(ctx context.Context, id model.ProcessIdentity, force bool) (dispatch.Report, error) {
	kind := dispatch.KindKillProcess
	if force {
		kind = dispatch.KindForceKillProcess
	}
	m.mu.Lock()
	m.killed[id] = struct{}{}
	m.mu.Unlock()
	report, err := m.submit(ctx, kind, dispatch.Target{Process: id})
	if err != nil {
		m.mu.Lock()
		delete(m.killed, id)
		m.mu.Unlock()
	}
	return report, err
}

// Exited reports whether a process this module tried to kill has since
// been reported as ended.
func (m *TaskManager) Exited(id model.ProcessIdentity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.exited, id)
}
