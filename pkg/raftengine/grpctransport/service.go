package grpctransport

import (
	"context"

	"google.golang.org/grpc"

	"github.com/cuemby/databay/pkg/raftengine"
)

// serviceName is the gRPC service path raftengine RPCs travel under.
// There is no .proto file behind it: Methods dispatch straight onto a
// raftengine.RPCHandler and the wire format comes from the JSON codec in
// codec.go.
const serviceName = "databay.raftengine.RaftTransport"

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*raftengine.RPCHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVote", Handler: requestVoteHandler},
		{MethodName: "AppendEntries", Handler: appendEntriesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raftengine.proto",
}

func requestVoteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(raftengine.RequestVoteArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := srv.(raftengine.RPCHandler)
	if interceptor == nil {
		reply, err := handler.HandleRequestVote(ctx, *in)
		return &reply, err
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/RequestVote"}
	wrapped := func(ctx context.Context, req any) (any, error) {
		reply, err := handler.HandleRequestVote(ctx, *req.(*raftengine.RequestVoteArgs))
		return &reply, err
	}
	return interceptor(ctx, in, info, wrapped)
}

func appendEntriesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(raftengine.AppendEntriesArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := srv.(raftengine.RPCHandler)
	if interceptor == nil {
		reply, err := handler.HandleAppendEntries(ctx, *in)
		return &reply, err
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/AppendEntries"}
	wrapped := func(ctx context.Context, req any) (any, error) {
		reply, err := handler.HandleAppendEntries(ctx, *req.(*raftengine.AppendEntriesArgs))
		return &reply, err
	}
	return interceptor(ctx, in, info, wrapped)
}

// RegisterServer attaches handler to s under the raftengine RPC service.
func RegisterServer(s *grpc.Server, handler raftengine.RPCHandler) {
	s.RegisterService(&serviceDesc, handler)
}
