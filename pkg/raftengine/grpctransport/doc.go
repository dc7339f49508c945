// Package grpctransport carries raftengine's RequestVote/AppendEntries
// RPCs over gRPC without a protoc-generated stub: a hand-written
// grpc.ServiceDesc dispatches onto a raftengine.RPCHandler, and the wire
// messages are the plain structs from raftengine, marshaled with a
// registered JSON codec instead of protobuf.
package grpctransport
