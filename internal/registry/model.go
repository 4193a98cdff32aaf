package registry

import (
	"time"

	"sysmate/internal/model"
)

// Snapshot is one published tick of the registry. It is never modified
// after publication; readers receive copies of its slices.
type Snapshot struct {
	Tick     uint64
	At       time.Time
	Stale    bool
	Failures int
	System   model.SystemView

	views []model.ProcessView
	index map[model.ProcessIdentity]int
}

// Meta describes a snapshot without its process views.
type Meta struct {
	Tick     uint64           `json:"tick"`
	At       time.Time        `json:"at"`
	Stale    bool             `json:"stale"`
	Failures int              `json:"failures"`
	Active   int              `json:"active"`
	Gone     int              `json:"gone"`
	System   model.SystemView `json:"system"`
}

// ListFilter narrows a registry query.
type ListFilter struct {
	ActiveOnly   bool
	PIDs         []int32
	Identities   []model.ProcessIdentity
	Users        []string
	NameContains string // case-insensitive substring over name and cmdline
	Limit        int
}
