package rpc

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"sysmate/internal/bus"
	"sysmate/internal/dispatch"
	apperrors "sysmate/internal/errors"
	"sysmate/internal/model"
	"sysmate/internal/registry"
)

type fakeCore struct {
	UnimplementedCoreServer

	submitted []SubmitRequest
	events    []model.ChangeEvent
}

func (f *fakeCore) Ping(context.Context, *PingRequest) (*PingReply, error) {
	return &PingReply{Status: "pong", PID: 42}, nil
}

func (f *fakeCore) List(_ context.Context, req *ListRequest) (*ListReply, error) {
	views := []model.ProcessView{
		{Identity: model.ProcessIdentity{PID: 10, StartTime: 1_700_000_000_123}, Name: "sshd", State: model.Active, CPUPercent: 1.5, RSSBytes: 4096},
		{Identity: model.ProcessIdentity{PID: 11, StartTime: 1_700_000_000_456}, Name: "bash", State: model.Active},
	}
	if req.Limit > 0 && req.Limit < len(views) {
		views = views[:req.Limit]
	}
	return &ListReply{Meta: registry.Meta{Tick: 7, Active: len(views)}, Processes: views}, nil
}

func (f *fakeCore) Get(context.Context, *GetRequest) (*GetReply, error) {
	return nil, Status(registry.ErrNotFound)
}

func (f *fakeCore) Submit(_ context.Context, req *SubmitRequest) (*SubmitReply, error) {
	f.submitted = append(f.submitted, *req)
	switch req.Target.Service {
	case "denied.service":
		return &SubmitReply{Outcome: model.ActionOutcome{ActionID: "a2", State: "denied", ErrorKind: "denied", Reason: "not allowed"}}, nil
	case "busy.service":
		return nil, Status(bus.ErrRateLimited)
	}
	return &SubmitReply{Outcome: model.ActionOutcome{ActionID: "a1", Kind: req.Kind, State: "executed"}}, nil
}

func (f *fakeCore) Cancel(_ context.Context, req *CancelRequest) (*CancelReply, error) {
	return nil, Status(dispatch.ErrUnknownAction)
}

func (f *fakeCore) Watch(req *WatchRequest, out EventSender) error {
	for _, ev := range f.events {
		if len(req.Kinds) > 0 && ev.Kind != req.Kinds[0] {
			continue
		}
		if err := out.Send(ev); err != nil {
			return err
		}
	}
	return nil
}

func serve(t *testing.T, core CoreServer) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	srv := grpc.NewServer()
	Register(srv, core)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPingAndList(t *testing.T) {
	client := serve(t, &fakeCore{})
	ctx := testContext(t)

	pong, err := client.Ping(ctx)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if pong.Status != "pong" || pong.PID != 42 {
		t.Fatalf("unexpected ping reply: %+v", pong)
	}

	list, err := client.List(ctx, ListRequest{Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Meta.Tick != 7 || len(list.Processes) != 1 {
		t.Fatalf("unexpected list reply: %+v", list)
	}
	got := list.Processes[0]
	if got.Identity.StartTime != 1_700_000_000_123 || got.RSSBytes != 4096 || got.CPUPercent != 1.5 {
		t.Fatalf("process view did not survive the envelope: %+v", got)
	}
}

func TestSubmitCarriesTargetAndOutcome(t *testing.T) {
	core := &fakeCore{}
	client := serve(t, core)
	ctx := testContext(t)

	out, err := client.Submit(ctx, SubmitRequest{
		Kind:   string(dispatch.KindServiceRestart),
		Target: dispatch.Target{Service: "nginx.service"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.ActionID != "a1" || out.State != "executed" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(core.submitted) != 1 || core.submitted[0].Target.Service != "nginx.service" {
		t.Fatalf("server saw %+v", core.submitted)
	}
}

func TestSubmitDeniedMapsToDeniedExitCode(t *testing.T) {
	client := serve(t, &fakeCore{})
	out, err := client.Submit(testContext(t), SubmitRequest{
		Kind:   string(dispatch.KindServiceStop),
		Target: dispatch.Target{Service: "denied.service"},
	})
	if !errors.Is(err, dispatch.ErrDenied) {
		t.Fatalf("expected denied, got %v", err)
	}
	if out.Reason != "not allowed" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if code := apperrors.ExitCode(err); code != apperrors.ExitErrorDenied {
		t.Fatalf("exit code = %d, want %d", code, apperrors.ExitErrorDenied)
	}
}

func TestStatusCodes(t *testing.T) {
	client := serve(t, &fakeCore{})
	ctx := testContext(t)

	_, err := client.Submit(ctx, SubmitRequest{Kind: string(dispatch.KindServiceStart), Target: dispatch.Target{Service: "busy.service"}})
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("rate limit: got %v", err)
	}
	if _, err := client.Get(ctx, GetRequest{PID: 99}); status.Code(err) != codes.NotFound {
		t.Fatalf("get: got %v", err)
	}
	if err := client.Cancel(ctx, "nope"); status.Code(err) != codes.NotFound {
		t.Fatalf("cancel: got %v", err)
	}
	if _, err := client.System(ctx); status.Code(err) != codes.Unimplemented {
		t.Fatalf("system: got %v", err)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{registry.ErrNotFound, codes.NotFound},
		{bus.ErrRateLimited, codes.ResourceExhausted},
		{bus.ErrBusClosed, codes.Unavailable},
		{&dispatch.DispatchError{Kind: dispatch.ErrorInvalid, Reason: "bad"}, codes.InvalidArgument},
		{&dispatch.DispatchError{Kind: dispatch.ErrorAlreadySubmitted}, codes.AlreadyExists},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		if got := status.Code(Status(tc.err)); got != tc.want {
			t.Errorf("Status(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
	if Status(nil) != nil {
		t.Fatal("nil error must stay nil")
	}
}

func TestWatchStreamsEvents(t *testing.T) {
	core := &fakeCore{events: []model.ChangeEvent{
		{Seq: 1, Tick: 1, Kind: model.EventAppeared, Process: model.ProcessView{Name: "a"}},
		{Seq: 2, Tick: 1, Kind: model.EventUpdated, Process: model.ProcessView{Name: "a"}},
		{Seq: 3, Tick: 2, Kind: model.EventAppeared, Process: model.ProcessView{Name: "b"}},
	}}
	client := serve(t, core)

	stream, err := client.Watch(testContext(t), WatchRequest{Kinds: []model.EventKind{model.EventAppeared}})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	var names []string
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		names = append(names, ev.Process.Name)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected events: %v", names)
	}
}

func TestCodecRoundTripsNestedValues(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := model.ChangeEvent{
		Seq:  9,
		Kind: model.EventActionResult,
		At:   at,
		Action: model.ActionOutcome{
			ActionID: "x", Kind: "kill-process", State: "failed", ErrorKind: "target_vanished",
		},
	}
	msg, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out model.ChangeEvent
	if err := Decode(msg, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Seq != 9 || !out.At.Equal(at) || out.Action.ErrorKind != "target_vanished" {
		t.Fatalf("unexpected decode: %+v", out)
	}
	if _, err := Encode([]int{1}); err == nil {
		t.Fatal("encoding a non-object must fail")
	}
}
