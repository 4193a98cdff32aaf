package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"sysmate/internal/rpc"
)

type fakeConn struct {
	invoke func(ctx context.Context, method string, args interface{}, reply interface{}, opts ...grpc.CallOption) error
}

func (f *fakeConn) Invoke(ctx context.Context, method string, args interface{}, reply interface{}, opts ...grpc.CallOption) error {
	if f.invoke != nil {
		return f.invoke(ctx, method, args, reply, opts...)
	}
	return nil
}

func (f *fakeConn) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeConn) Close() error { return nil }

func stubDaemon(t *testing.T, running bool, dial func(context.Context) (*rpc.Client, io.Closer, error)) {
	t.Helper()
	resetDaemonDeps()
	daemonIsRunning = func() bool { return running }
	if dial == nil {
		dial = func(context.Context) (*rpc.Client, io.Closer, error) {
			return nil, nil, errors.New("dial not stubbed")
		}
	}
	dialDaemonClient = dial
	t.Cleanup(resetDaemonDeps)
}

// handlerFunc answers one Core method. req is decoded by the handler itself.
type handlerFunc func(method string, req *structpb.Struct) (any, error)

// stubCore routes unary calls on a fakeConn to handle, encoding the
// returned message into the reply envelope.
func stubCore(t *testing.T, handle handlerFunc) {
	t.Helper()
	stubDaemon(t, true, func(context.Context) (*rpc.Client, io.Closer, error) {
		conn := &fakeConn{
			invoke: func(ctx context.Context, method string, args interface{}, reply interface{}, opts ...grpc.CallOption) error {
				name := method[strings.LastIndex(method, "/")+1:]
				resp, err := handle(name, args.(*structpb.Struct))
				if err != nil {
					return err
				}
				msg, err := rpc.Encode(resp)
				if err != nil {
					t.Fatalf("encode %s reply: %v", name, err)
				}
				proto.Merge(reply.(*structpb.Struct), msg)
				return nil
			},
		}
		return rpc.NewClient(conn), conn, nil
	})
}

func decodeReq[T any](t *testing.T, s *structpb.Struct) T {
	t.Helper()
	var v T
	if err := rpc.Decode(s, &v); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return v
}
