package model

import "time"

// EventKind classifies a ChangeEvent.
type EventKind string

const (
	EventAppeared     EventKind = "appeared"
	EventUpdated      EventKind = "updated"
	EventEnded        EventKind = "ended"
	EventActionResult EventKind = "action_result"
	// EventResync tells a subscriber its backlog was dropped and it should
	// re-read the registry before consuming further events.
	EventResync EventKind = "resync"
)

// ChangeEvent is the only value feature modules receive from the core.
type ChangeEvent struct {
	Seq     uint64        `json:"seq"`
	Tick    uint64        `json:"tick"`
	Kind    EventKind     `json:"kind"`
	At      time.Time     `json:"at"`
	Process ProcessView   `json:"process,omitzero"`
	Action  ActionOutcome `json:"action,omitzero"`
}

// ActionOutcome is a copy of a dispatcher result, safe to hand to any module.
type ActionOutcome struct {
	ActionID    string    `json:"action_id"`
	Kind        string    `json:"kind"`
	Target      string    `json:"target"`
	RequestedBy string    `json:"requested_by"`
	State       string    `json:"state"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Output      string    `json:"output,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}
