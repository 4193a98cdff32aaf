package app

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"sysmate/internal/dispatch"
	apperrors "sysmate/internal/errors"
	"sysmate/internal/model"
	"sysmate/internal/rpc"
)

func TestAppKillRequiresSelector(t *testing.T) {
	app := New(Options{})
	_, err := app.Kill(context.Background(), KillParams{
		Timeout:         time.Second,
		RequireSelector: true,
	})
	if err == nil || err.Error() != "provide at least one selector (--pid/--user/--name) or pass --all" {
		t.Fatalf("expected selector error, got %v", err)
	}
}

func TestAppKillDaemonNotRunning(t *testing.T) {
	stubDaemon(t, false, nil)
	app := New(Options{})
	_, err := app.Kill(context.Background(), KillParams{
		Filters:         ListFilters{PIDs: []int{10}},
		Timeout:         time.Second,
		RequireSelector: true,
	})
	if err == nil || err.Error() != "daemon is not running" {
		t.Fatalf("expected daemon error, got %v", err)
	}
}

func TestAppKillDialError(t *testing.T) {
	stubDaemon(t, true, func(context.Context) (*rpc.Client, io.Closer, error) {
		return nil, nil, errors.New("dial failed")
	})
	app := New(Options{})
	_, err := app.Kill(context.Background(), KillParams{
		Filters: ListFilters{PIDs: []int{10}},
		Timeout: time.Second,
	})
	if err == nil || err.Error() != "connect to daemon: dial failed" {
		t.Fatalf("expected dial error, got %v", err)
	}
}

func liveView(pid int32) model.ProcessView {
	return model.ProcessView{
		Identity: model.ProcessIdentity{PID: pid, StartTime: 1_700_000_000_000 + int64(pid)},
		Name:     "worker",
		State:    model.Active,
	}
}

// killCore lists views and answers every Submit with outcome(target).
func killCore(t *testing.T, views []model.ProcessView, outcome func(rpc.SubmitRequest) model.ActionOutcome) *[]rpc.SubmitRequest {
	t.Helper()
	var submitted []rpc.SubmitRequest
	stubCore(t, func(method string, req *structpb.Struct) (any, error) {
		switch method {
		case "List":
			if r := decodeReq[rpc.ListRequest](t, req); !r.ActiveOnly {
				t.Fatalf("kill must list live processes only: %+v", r)
			}
			return rpc.ListReply{Processes: views}, nil
		case "Submit":
			r := decodeReq[rpc.SubmitRequest](t, req)
			submitted = append(submitted, r)
			return rpc.SubmitReply{Outcome: outcome(r)}, nil
		}
		t.Fatalf("unexpected method %s", method)
		return nil, nil
	})
	return &submitted
}

func TestAppKillNoMatches(t *testing.T) {
	killCore(t, nil, nil)
	app := New(Options{})
	res, err := app.Kill(context.Background(), KillParams{
		Filters: ListFilters{NameContains: "ghost"},
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Message != "No processes match the provided selectors" {
		t.Fatalf("unexpected message: %q", res.Message)
	}
}

func TestAppKillMultipleNeedsAll(t *testing.T) {
	killCore(t, []model.ProcessView{liveView(10), liveView(11)}, nil)
	app := New(Options{})
	_, err := app.Kill(context.Background(), KillParams{
		Filters: ListFilters{NameContains: "worker"},
		Timeout: time.Second,
	})
	if err == nil || err.Error() != "multiple live processes match filters (pids: 10, 11). Use --all to terminate all or narrow the selection" {
		t.Fatalf("expected ambiguity error, got %v", err)
	}
}

func TestAppKillSubmitsOneActionPerProcess(t *testing.T) {
	submitted := killCore(t, []model.ProcessView{liveView(10), liveView(11)}, func(r rpc.SubmitRequest) model.ActionOutcome {
		return model.ActionOutcome{ActionID: "a", Kind: r.Kind, State: "executed"}
	})
	app := New(Options{})
	res, err := app.Kill(context.Background(), KillParams{
		Filters:  ListFilters{NameContains: "worker"},
		AllowAll: true,
		Force:    true,
		Timeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("kill: %v", err)
	}
	if res.Successes != 2 || len(*submitted) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	for i, r := range *submitted {
		if r.Kind != string(dispatch.KindForceKillProcess) || r.Target.Process != liveView(int32(10+i)).Identity {
			t.Fatalf("unexpected submission %d: %+v", i, r)
		}
	}
}

func TestAppKillDeniedKeepsDeniedExitCode(t *testing.T) {
	killCore(t, []model.ProcessView{liveView(10)}, func(rpc.SubmitRequest) model.ActionOutcome {
		return model.ActionOutcome{ActionID: "a", State: "denied", ErrorKind: "denied", Reason: "not authorized"}
	})
	app := New(Options{})
	res, err := app.Kill(context.Background(), KillParams{
		Filters: ListFilters{PIDs: []int{10}},
		Timeout: time.Second,
	})
	if !errors.Is(err, dispatch.ErrDenied) {
		t.Fatalf("expected denied, got %v", err)
	}
	if apperrors.ExitCode(err) != apperrors.ExitErrorDenied {
		t.Fatalf("exit code = %d", apperrors.ExitCode(err))
	}
	if len(res.Events) != 1 || res.Events[0].Kind != "denied" {
		t.Fatalf("unexpected events: %+v", res.Events)
	}
}

func TestAppKillPartialSuccess(t *testing.T) {
	killCore(t, []model.ProcessView{liveView(10), liveView(11)}, func(r rpc.SubmitRequest) model.ActionOutcome {
		if r.Target.Process.PID == 11 {
			return model.ActionOutcome{State: "failed", ErrorKind: "target_vanished"}
		}
		return model.ActionOutcome{State: "executed"}
	})
	app := New(Options{})
	res, err := app.Kill(context.Background(), KillParams{AllowAll: true, Timeout: time.Second})
	if err == nil || err.Error() != "partially successful: killed 1/2 processes" {
		t.Fatalf("expected partial error, got %v", err)
	}
	if res.Events[1].Kind != "vanished" {
		t.Fatalf("unexpected events: %+v", res.Events)
	}
}
