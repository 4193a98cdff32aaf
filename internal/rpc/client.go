package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"sysmate/internal/model"
)

// Client is the typed caller side of the Core service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection to the daemon.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := Encode(req)
	if err != nil {
		return err
	}
	out := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return fromStatus(err)
	}
	return Decode(out, resp)
}

func (c *Client) Ping(ctx context.Context) (PingReply, error) {
	var resp PingReply
	err := c.invoke(ctx, "Ping", PingRequest{}, &resp)
	return resp, err
}

func (c *Client) List(ctx context.Context, req ListRequest) (ListReply, error) {
	var resp ListReply
	err := c.invoke(ctx, "List", req, &resp)
	return resp, err
}

func (c *Client) Get(ctx context.Context, req GetRequest) (model.ProcessView, error) {
	var resp GetReply
	err := c.invoke(ctx, "Get", req, &resp)
	return resp.Process, err
}

func (c *Client) System(ctx context.Context) (SystemReply, error) {
	var resp SystemReply
	err := c.invoke(ctx, "System", SystemRequest{}, &resp)
	return resp, err
}

// Submit runs an action and returns its outcome. A terminal outcome other
// than executed is also returned as a *dispatch.DispatchError.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (model.ActionOutcome, error) {
	var resp SubmitReply
	if err := c.invoke(ctx, "Submit", req, &resp); err != nil {
		return model.ActionOutcome{}, err
	}
	return resp.Outcome, OutcomeError(resp.Outcome)
}

func (c *Client) Cancel(ctx context.Context, actionID string) error {
	return c.invoke(ctx, "Cancel", CancelRequest{ActionID: actionID}, &CancelReply{})
}

func (c *Client) Action(ctx context.Context, req ActionRequest) (model.ActionOutcome, error) {
	var resp ActionReply
	if err := c.invoke(ctx, "Action", req, &resp); err != nil {
		return model.ActionOutcome{}, err
	}
	return resp.Outcome, OutcomeError(resp.Outcome)
}

func (c *Client) CleanScan(ctx context.Context, rescan bool) (CleanScanReply, error) {
	var resp CleanScanReply
	err := c.invoke(ctx, "CleanScan", CleanScanRequest{Rescan: rescan}, &resp)
	return resp, err
}

func (c *Client) Clean(ctx context.Context, category string) ([]model.ActionOutcome, error) {
	var resp CleanReply
	if err := c.invoke(ctx, "Clean", CleanRequest{Category: category}, &resp); err != nil {
		return nil, err
	}
	for _, out := range resp.Outcomes {
		if err := OutcomeError(out); err != nil {
			return resp.Outcomes, err
		}
	}
	return resp.Outcomes, nil
}

func (c *Client) Services(ctx context.Context, req ServicesRequest) (ServicesReply, error) {
	var resp ServicesReply
	err := c.invoke(ctx, "Services", req, &resp)
	return resp, err
}

func (c *Client) ServiceLogs(ctx context.Context, req ServiceLogsRequest) (string, error) {
	var resp ServiceLogsReply
	err := c.invoke(ctx, "ServiceLogs", req, &resp)
	return resp.Text, err
}

func (c *Client) Packages(ctx context.Context, refresh bool) (PackagesReply, error) {
	var resp PackagesReply
	err := c.invoke(ctx, "Packages", PackagesRequest{Refresh: refresh}, &resp)
	return resp, err
}

func (c *Client) Search(ctx context.Context, query string) (SearchReply, error) {
	var resp SearchReply
	err := c.invoke(ctx, "Search", SearchRequest{Query: query}, &resp)
	return resp, err
}

// EventStream yields the events of one Watch call.
type EventStream struct {
	stream grpc.ClientStream
}

// Watch opens a server stream of change events.
func (c *Client) Watch(ctx context.Context, req WatchRequest) (*EventStream, error) {
	stream, err := c.cc.NewStream(ctx, &coreDesc.Streams[0], fullMethod("Watch"))
	if err != nil {
		return nil, fromStatus(err)
	}
	in, err := Encode(req)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fromStatus(err)
	}
	return &EventStream{stream: stream}, nil
}

// Recv blocks for the next event. It returns io.EOF when the daemon ends
// the stream.
func (s *EventStream) Recv() (model.ChangeEvent, error) {
	out := &structpb.Struct{}
	if err := s.stream.RecvMsg(out); err != nil {
		return model.ChangeEvent{}, fromStatus(err)
	}
	var ev model.ChangeEvent
	err := Decode(out, &ev)
	return ev, err
}
