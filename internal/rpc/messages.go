package rpc

import (
	"sysmate/internal/dispatch"
	"sysmate/internal/model"
	"sysmate/internal/modules"
	"sysmate/internal/registry"
)

type PingRequest struct{}

type PingReply struct {
	Status  string `json:"status"`
	PID     int    `json:"pid"`
	Version string `json:"version,omitempty"`
}

// ListRequest selects processes from the registry. Sort is one of the task
// manager sort keys; empty keeps registry order.
type ListRequest struct {
	ActiveOnly   bool     `json:"active_only,omitempty"`
	PIDs         []int32  `json:"pids,omitempty"`
	Users        []string `json:"users,omitempty"`
	NameContains string   `json:"name_contains,omitempty"`
	Sort         string   `json:"sort,omitempty"`
	Limit        int      `json:"limit,omitempty"`
}

type ListReply struct {
	Meta      registry.Meta       `json:"meta"`
	Processes []model.ProcessView `json:"processes"`
}

// GetRequest names a process by identity ("pid@start") or, failing that,
// by its currently active PID.
type GetRequest struct {
	Identity string `json:"identity,omitempty"`
	PID      int32  `json:"pid,omitempty"`
}

type GetReply struct {
	Process model.ProcessView `json:"process"`
}

type SystemRequest struct{}

type SystemReply struct {
	Meta registry.Meta `json:"meta"`
}

// SubmitRequest asks the daemon to run one privileged action. A process
// target may be given as a bare PID; the daemon resolves it to the active
// identity. With Async set the reply carries the pending action id only.
type SubmitRequest struct {
	Kind   string          `json:"kind"`
	Target dispatch.Target `json:"target"`
	PID    int32           `json:"pid,omitempty"`
	Async  bool            `json:"async,omitempty"`
}

type SubmitReply struct {
	Outcome model.ActionOutcome `json:"outcome"`
}

type CancelRequest struct {
	ActionID string `json:"action_id"`
}

type CancelReply struct{}

// ActionRequest reads the report of a submitted action, optionally waiting
// for it to finish.
type ActionRequest struct {
	ActionID string `json:"action_id"`
	Wait     bool   `json:"wait,omitempty"`
}

type ActionReply struct {
	Outcome model.ActionOutcome `json:"outcome"`
}

type WatchRequest struct {
	Kinds        []model.EventKind `json:"kinds,omitempty"`
	NameContains string            `json:"name_contains,omitempty"`
}

type CleanScanRequest struct {
	Rescan bool `json:"rescan,omitempty"`
}

type CleanScanReply struct {
	Items []modules.CleanupItem `json:"items"`
}

type CleanRequest struct {
	Category string `json:"category"`
}

type CleanReply struct {
	Outcomes []model.ActionOutcome `json:"outcomes"`
}

type ServicesRequest struct {
	Query   string `json:"query,omitempty"`
	Refresh bool   `json:"refresh,omitempty"`
}

type ServicesReply struct {
	Units []modules.Unit `json:"units"`
}

type ServiceLogsRequest struct {
	Unit  string `json:"unit"`
	Lines int    `json:"lines,omitempty"`
}

type ServiceLogsReply struct {
	Text string `json:"text"`
}

type PackagesRequest struct {
	Refresh bool `json:"refresh,omitempty"`
}

type PackagesReply struct {
	Stats      modules.PackageStats `json:"stats"`
	Upgradable []modules.Package    `json:"upgradable"`
}

type SearchRequest struct {
	Query string `json:"query"`
}

type SearchReply struct {
	Packages []modules.Package `json:"packages"`
}
