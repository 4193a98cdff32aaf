package bus

import (
	"slices"
	"strings"

	"sysmate/internal/model"
)

// Filter selects which events a subscription receives. Zero fields match
// everything. Resync events are always delivered.
type Filter struct {
	Kinds        []model.EventKind
	Identities   []model.ProcessIdentity
	NameContains string
	// OwnActionsOnly restricts ActionResult events to actions the
	// subscribing module requested.
	OwnActionsOnly bool
}

// Match reports whether ev should be delivered to module.
func (f Filter) Match(module string, ev model.ChangeEvent) bool {
	if ev.Kind == model.EventResync {
		return true
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, ev.Kind) {
		return false
	}
	if ev.Kind == model.EventActionResult {
		return !f.OwnActionsOnly || ev.Action.RequestedBy == module
	}
	if len(f.Identities) > 0 && !slices.Contains(f.Identities, ev.Process.Identity) {
		return false
	}
	if f.NameContains != "" {
		needle := strings.ToLower(f.NameContains)
		if !strings.Contains(strings.ToLower(ev.Process.Name), needle) &&
			!strings.Contains(strings.ToLower(ev.Process.Cmdline), needle) {
			return false
		}
	}
	return true
}
