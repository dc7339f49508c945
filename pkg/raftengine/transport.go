package raftengine

import "context"

// RPCHandler is implemented by Engine; a Transport delivers inbound RPCs
// addressed to a node to that node's handler.
type RPCHandler interface {
	HandleRequestVote(ctx context.Context, args RequestVoteArgs) (RequestVoteReply, error)
	HandleAppendEntries(ctx context.Context, args AppendEntriesArgs) (AppendEntriesReply, error)
}

// Transport carries RequestVote and AppendEntries RPCs between cluster
// members. Bind registers the handler that receives RPCs addressed to
// self; engines call Bind once during Start.
type Transport interface {
	RequestVote(ctx context.Context, peer NodeID, args RequestVoteArgs) (RequestVoteReply, error)
	AppendEntries(ctx context.Context, peer NodeID, args AppendEntriesArgs) (AppendEntriesReply, error)
	Bind(self NodeID, handler RPCHandler)
}
