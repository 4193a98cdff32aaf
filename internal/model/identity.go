// Package model holds the value types exchanged between the sampler, the
// delta engine, the registry and the module bus. Every type here is passed
// by value; holding one never grants access to another component's state.
package model

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// ProcessIdentity names one process instance. The OS reuses PIDs, so the
// start time is part of the key and two identities with equal PIDs but
// different start times are distinct processes.
type ProcessIdentity struct {
	PID       int32 `json:"pid"`
	StartTime int64 `json:"start_time"` // unix milliseconds
}

func (id ProcessIdentity) String() string {
	return fmt.Sprintf("%d@%d", id.PID, id.StartTime)
}

// IsZero reports whether id is unset.
func (id ProcessIdentity) IsZero() bool {
	return id.PID == 0 && id.StartTime == 0
}

// Compare orders identities by PID, then start time.
func (id ProcessIdentity) Compare(other ProcessIdentity) int {
	if c := cmp.Compare(id.PID, other.PID); c != 0 {
		return c
	}
	return cmp.Compare(id.StartTime, other.StartTime)
}

// ParseIdentity parses the "pid@start" form produced by String.
func ParseIdentity(s string) (ProcessIdentity, error) {
	pidPart, startPart, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok {
		return ProcessIdentity{}, fmt.Errorf("identity %q: want pid@start", s)
	}
	pid, err := strconv.ParseInt(pidPart, 10, 32)
	if err != nil || pid <= 0 {
		return ProcessIdentity{}, fmt.Errorf("identity %q: invalid pid", s)
	}
	start, err := strconv.ParseInt(startPart, 10, 64)
	if err != nil || start < 0 {
		return ProcessIdentity{}, fmt.Errorf("identity %q: invalid start time", s)
	}
	return ProcessIdentity{PID: int32(pid), StartTime: start}, nil
}
