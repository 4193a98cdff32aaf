package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sysmate/internal/dispatch"
	"sysmate/internal/model"
	"sysmate/internal/rpc"
)

// KillParams configures kill command semantics.
type KillParams struct {
	Filters         ListFilters
	AllowAll        bool
	Force           bool
	Timeout         time.Duration
	RequireSelector bool
}

// KillEvent describes the action taken for one process.
type KillEvent struct {
	Kind    string
	Proc    model.ProcessView
	Outcome model.ActionOutcome
	Err     error
}

// KillResult aggregates the command outcome.
type KillResult struct {
	Events       []KillEvent
	Message      string
	TotalMatches int
	Successes    int
}

// Kill asks the daemon to terminate the live processes matching the filters.
// Each process is a separate privileged action.
func (a *App) Kill(ctx context.Context, params KillParams) (KillResult, error) {
	var result KillResult
	if err := requireTimeout(params.Timeout); err != nil {
		return result, err
	}
	if params.RequireSelector && !params.AllowAll && params.Filters.empty() {
		return result, errors.New("provide at least one selector (--pid/--user/--name) or pass --all")
	}

	params.Filters.ActiveOnly = true
	req, err := params.Filters.buildRequest()
	if err != nil {
		return result, err
	}
	kind := dispatch.KindKillProcess
	if params.Force {
		kind = dispatch.KindForceKillProcess
	}

	err = a.withClient(ctx, params.Timeout, func(ctx context.Context, client *rpc.Client) error {
		resp, err := client.List(ctx, req)
		if err != nil {
			return fmt.Errorf("daemon list RPC failed: %w", err)
		}

		result.TotalMatches = len(resp.Processes)
		if result.TotalMatches == 0 {
			result.Message = "No processes match the provided selectors"
			return nil
		}
		if result.TotalMatches > 1 && !params.AllowAll {
			return fmt.Errorf("multiple live processes match filters (pids: %s). Use --all to terminate all or narrow the selection", joinProcessesSample(resp.Processes))
		}

		for _, proc := range resp.Processes {
			out, err := client.Submit(ctx, rpc.SubmitRequest{
				Kind:   string(kind),
				Target: dispatch.Target{Process: proc.Identity},
			})
			ev := KillEvent{Kind: "success", Proc: proc, Outcome: out}
			switch {
			case errors.Is(err, dispatch.ErrDenied):
				ev.Kind, ev.Err = "denied", err
			case errors.Is(err, dispatch.ErrTargetVanished):
				ev.Kind, ev.Err = "vanished", err
			case err != nil:
				ev.Kind, ev.Err = "failure", err
			default:
				result.Successes++
			}
			result.Events = append(result.Events, ev)
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	switch {
	case result.Successes == len(result.Events):
		return result, nil
	case result.Successes == 0:
		// keep the first error so a refused authorization maps to its exit code
		return result, fmt.Errorf("no processes were killed: %w", result.Events[0].Err)
	default:
		return result, fmt.Errorf("partially successful: killed %d/%d processes", result.Successes, len(result.Events))
	}
}

func joinProcessesSample(procs []model.ProcessView) string {
	limit := 5
	pids := make([]string, 0, limit+1)
	for i := 0; i < len(procs) && i < limit; i++ {
		pids = append(pids, strconv.Itoa(int(procs[i].Identity.PID)))
	}
	if len(procs) > limit {
		pids = append(pids, "...")
	}
	return strings.Join(pids, ", ")
}

// processRef turns "pid@start" or a bare pid into a Get request.
func processRef(ref string) (rpc.GetRequest, error) {
	ref = strings.TrimSpace(ref)
	if strings.Contains(ref, "@") {
		if _, err := model.ParseIdentity(ref); err != nil {
			return rpc.GetRequest{}, err
		}
		return rpc.GetRequest{Identity: ref}, nil
	}
	pid, err := strconv.ParseInt(ref, 10, 32)
	if err != nil || pid <= 0 {
		return rpc.GetRequest{}, fmt.Errorf("invalid process reference %q (want pid or pid@start)", ref)
	}
	return rpc.GetRequest{PID: int32(pid)}, nil
}
