package app

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"sysmate/internal/model"
	"sysmate/internal/registry"
	"sysmate/internal/rpc"
)

func TestAppListRejectsInvalidUserFilter(t *testing.T) {
	app := New(Options{})
	_, err := app.List(context.Background(), ListParams{
		Timeout: time.Second,
		Filters: ListFilters{Users: []string{"root", " "}},
	})
	if err == nil || err.Error() != "user filters must not be empty" {
		t.Fatalf("expected user validation error, got %v", err)
	}
}

func TestAppListRejectsInvalidPIDFilter(t *testing.T) {
	app := New(Options{})
	_, err := app.List(context.Background(), ListParams{
		Timeout: time.Second,
		Filters: ListFilters{PIDs: []int{1, -2}},
	})
	if err == nil || err.Error() != "invalid pid filter: -2" {
		t.Fatalf("expected pid validation error, got %v", err)
	}
}

func TestAppListDaemonNotRunning(t *testing.T) {
	stubDaemon(t, false, nil)
	app := New(Options{})
	_, err := app.List(context.Background(), ListParams{Timeout: time.Second})
	if err == nil || err.Error() != "daemon is not running" {
		t.Fatalf("expected daemon not running error, got %v", err)
	}
}

func TestAppListDialError(t *testing.T) {
	stubDaemon(t, true, func(ctx context.Context) (*rpc.Client, io.Closer, error) {
		return nil, nil, errors.New("dial failed")
	})
	app := New(Options{})
	_, err := app.List(context.Background(), ListParams{Timeout: time.Second})
	if err == nil || err.Error() != "connect to daemon: dial failed" {
		t.Fatalf("expected dial error, got %v", err)
	}
}

func TestAppListSendsFiltersAndReturnsSnapshot(t *testing.T) {
	var seen rpc.ListRequest
	stubCore(t, func(method string, req *structpb.Struct) (any, error) {
		seen = decodeReq[rpc.ListRequest](t, req)
		return rpc.ListReply{
			Meta: registry.Meta{Tick: 12, Active: 1},
			Processes: []model.ProcessView{{
				Identity: model.ProcessIdentity{PID: 55, StartTime: 1_700_000_000_555},
				Name:     "nginx",
				State:    model.Active,
			}},
		}, nil
	})

	app := New(Options{})
	snap, err := app.List(context.Background(), ListParams{
		Timeout: time.Second,
		Filters: ListFilters{NameContains: " ngi ", Users: []string{"www-data"}, PIDs: []int{55}, ActiveOnly: true},
		Sort:    "mem",
		Limit:   5,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if seen.NameContains != "ngi" || !seen.ActiveOnly || seen.Sort != "mem" || seen.Limit != 5 ||
		len(seen.PIDs) != 1 || seen.PIDs[0] != 55 || seen.Users[0] != "www-data" {
		t.Fatalf("unexpected request: %+v", seen)
	}
	if snap.Meta.Tick != 12 || len(snap.Processes) != 1 || snap.Processes[0].Identity.StartTime != 1_700_000_000_555 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestAppProcessResolvesReferences(t *testing.T) {
	var seen []rpc.GetRequest
	stubCore(t, func(method string, req *structpb.Struct) (any, error) {
		r := decodeReq[rpc.GetRequest](t, req)
		seen = append(seen, r)
		if r.PID == 404 {
			return nil, status.Error(codes.NotFound, "process not found")
		}
		return rpc.GetReply{Process: model.ProcessView{Name: "x"}}, nil
	})

	app := New(Options{})
	ctx := context.Background()
	if _, err := app.Process(ctx, "42", time.Second); err != nil {
		t.Fatalf("pid ref: %v", err)
	}
	if _, err := app.Process(ctx, "42@1700000000000", time.Second); err != nil {
		t.Fatalf("identity ref: %v", err)
	}
	if _, err := app.Process(ctx, "404", time.Second); status.Code(errors.Unwrap(err)) != codes.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := app.Process(ctx, "nope", time.Second); err == nil {
		t.Fatal("expected invalid reference error")
	}
	if len(seen) != 3 || seen[0].PID != 42 || seen[1].Identity != "42@1700000000000" {
		t.Fatalf("unexpected requests: %+v", seen)
	}
}
