// Package rpc carries the daemon's Core service over gRPC. Messages are Go
// structs encoded into google.protobuf.Struct envelopes, so the service
// needs no generated code.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"sysmate/internal/model"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "sysmate.v1.Core"

// EventSender delivers Watch events to one client.
type EventSender interface {
	Send(model.ChangeEvent) error
	Context() context.Context
}

// CoreServer is implemented by the daemon.
type CoreServer interface {
	Ping(context.Context, *PingRequest) (*PingReply, error)
	List(context.Context, *ListRequest) (*ListReply, error)
	Get(context.Context, *GetRequest) (*GetReply, error)
	System(context.Context, *SystemRequest) (*SystemReply, error)
	Submit(context.Context, *SubmitRequest) (*SubmitReply, error)
	Cancel(context.Context, *CancelRequest) (*CancelReply, error)
	Action(context.Context, *ActionRequest) (*ActionReply, error)
	CleanScan(context.Context, *CleanScanRequest) (*CleanScanReply, error)
	Clean(context.Context, *CleanRequest) (*CleanReply, error)
	Services(context.Context, *ServicesRequest) (*ServicesReply, error)
	ServiceLogs(context.Context, *ServiceLogsRequest) (*ServiceLogsReply, error)
	Packages(context.Context, *PackagesRequest) (*PackagesReply, error)
	Search(context.Context, *SearchRequest) (*SearchReply, error)
	Watch(*WatchRequest, EventSender) error
}

// UnimplementedCoreServer answers every call with codes.Unimplemented.
// Embed it to implement a subset of the service.
type UnimplementedCoreServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedCoreServer) Ping(context.Context, *PingRequest) (*PingReply, error) {
	return nil, unimplemented("Ping")
}
func (UnimplementedCoreServer) List(context.Context, *ListRequest) (*ListReply, error) {
	return nil, unimplemented("List")
}
func (UnimplementedCoreServer) Get(context.Context, *GetRequest) (*GetReply, error) {
	return nil, unimplemented("Get")
}
func (UnimplementedCoreServer) System(context.Context, *SystemRequest) (*SystemReply, error) {
	return nil, unimplemented("System")
}
func (UnimplementedCoreServer) Submit(context.Context, *SubmitRequest) (*SubmitReply, error) {
	return nil, unimplemented("Submit")
}
func (UnimplementedCoreServer) Cancel(context.Context, *CancelRequest) (*CancelReply, error) {
	return nil, unimplemented("Cancel")
}
func (UnimplementedCoreServer) Action(context.Context, *ActionRequest) (*ActionReply, error) {
	return nil, unimplemented("Action")
}
func (UnimplementedCoreServer) CleanScan(context.Context, *CleanScanRequest) (*CleanScanReply, error) {
	return nil, unimplemented("CleanScan")
}
func (UnimplementedCoreServer) Clean(context.Context, *CleanRequest) (*CleanReply, error) {
	return nil, unimplemented("Clean")
}
func (UnimplementedCoreServer) Services(context.Context, *ServicesRequest) (*ServicesReply, error) {
	return nil, unimplemented("Services")
}
func (UnimplementedCoreServer) ServiceLogs(context.Context, *ServiceLogsRequest) (*ServiceLogsReply, error) {
	return nil, unimplemented("ServiceLogs")
}
func (UnimplementedCoreServer) Packages(context.Context, *PackagesRequest) (*PackagesReply, error) {
	return nil, unimplemented("Packages")
}
func (UnimplementedCoreServer) Search(context.Context, *SearchRequest) (*SearchReply, error) {
	return nil, unimplemented("Search")
}
func (UnimplementedCoreServer) Watch(*WatchRequest, EventSender) error {
	return unimplemented("Watch")
}

// Register exposes srv on s.
func Register(s grpc.ServiceRegistrar, srv CoreServer) {
	s.RegisterService(&coreDesc, srv)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// unary adapts a typed CoreServer method to a grpc.MethodHandler that
// decodes and encodes Struct envelopes.
func unary[Req, Resp any](name string, call func(CoreServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	handler := func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		invoke := func(ctx context.Context, msg any) (any, error) {
			req := new(Req)
			if err := Decode(msg.(*structpb.Struct), req); err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			resp, err := call(srv.(CoreServer), ctx, req)
			if err != nil {
				return nil, err
			}
			return Encode(resp)
		}
		if interceptor == nil {
			return invoke(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		return interceptor(ctx, in, info, invoke)
	}
	return grpc.MethodDesc{MethodName: name, Handler: handler}
}

type streamSender struct {
	grpc.ServerStream
}

func (s streamSender) Send(ev model.ChangeEvent) error {
	msg, err := Encode(ev)
	if err != nil {
		return err
	}
	return s.SendMsg(msg)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := &structpb.Struct{}
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	req := new(WatchRequest)
	if err := Decode(in, req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return srv.(CoreServer).Watch(req, streamSender{stream})
}

var coreDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CoreServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ping", CoreServer.Ping),
		unary("List", CoreServer.List),
		unary("Get", CoreServer.Get),
		unary("System", CoreServer.System),
		unary("Submit", CoreServer.Submit),
		unary("Cancel", CoreServer.Cancel),
		unary("Action", CoreServer.Action),
		unary("CleanScan", CoreServer.CleanScan),
		unary("Clean", CoreServer.Clean),
		unary("Services", CoreServer.Services),
		unary("ServiceLogs", CoreServer.ServiceLogs),
		unary("Packages", CoreServer.Packages),
		unary("Search", CoreServer.Search),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "sysmate/v1/core",
}
