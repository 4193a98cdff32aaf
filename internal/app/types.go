package app

import (
	"errors"
	"fmt"
	"strings"

	"sysmate/internal/model"
	"sysmate/internal/registry"
	"sysmate/internal/rpc"
)

// Snapshot is one registry read as seen by a client.
type Snapshot struct {
	Meta      registry.Meta
	Processes []model.ProcessView
}

// ListFilters aggregates selectors shared across commands.
type ListFilters struct {
	NameContains string
	Users        []string
	PIDs         []int
	ActiveOnly   bool
}

func (f ListFilters) empty() bool {
	return strings.TrimSpace(f.NameContains) == "" && len(f.Users) == 0 && len(f.PIDs) == 0
}

func (f ListFilters) buildRequest() (rpc.ListRequest, error) {
	req := rpc.ListRequest{
		ActiveOnly:   f.ActiveOnly,
		NameContains: strings.TrimSpace(f.NameContains),
	}
	if users := f.Users; len(users) > 0 {
		req.Users = make([]string, 0, len(users))
		for _, u := range users {
			clean := strings.TrimSpace(u)
			if clean == "" {
				return req, errors.New("user filters must not be empty")
			}
			req.Users = append(req.Users, clean)
		}
	}
	if pids := f.PIDs; len(pids) > 0 {
		req.PIDs = make([]int32, 0, len(pids))
		for _, pid := range pids {
			if pid <= 0 {
				return req, fmt.Errorf("invalid pid filter: %d", pid)
			}
			req.PIDs = append(req.PIDs, int32(pid))
		}
	}
	return req, nil
}
