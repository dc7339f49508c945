package grpctransport

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/databay/pkg/raftengine"
)

// Transport dials one *grpc.ClientConn per peer address, lazily, and
// issues RequestVote/AppendEntries as unary RPCs over the JSON codec.
// Bind is a no-op here: inbound RPCs are wired through RegisterServer
// against a *grpc.Server directly, not through this type.
type Transport struct {
	mu    sync.Mutex
	addrs map[raftengine.NodeID]string
	conns map[raftengine.NodeID]*grpc.ClientConn
}

// NewTransport builds a client-side transport over a NodeID -> "host:port"
// address table.
func NewTransport(addrs map[raftengine.NodeID]string) *Transport {
	return &Transport{
		addrs: addrs,
		conns: make(map[raftengine.NodeID]*grpc.ClientConn),
	}
}

func (t *Transport) Bind(self raftengine.NodeID, handler raftengine.RPCHandler) {}

func (t *Transport) connFor(peer raftengine.NodeID) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[peer]; ok {
		return conn, nil
	}
	addr, ok := t.addrs[peer]
	if !ok {
		return nil, fmt.Errorf("grpctransport: no address for peer %s", peer)
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: dialing %s: %w", peer, err)
	}
	t.conns[peer] = conn
	return conn, nil
}

// RequestVote issues the RPC to peer.
func (t *Transport) RequestVote(ctx context.Context, peer raftengine.NodeID, args raftengine.RequestVoteArgs) (raftengine.RequestVoteReply, error) {
	conn, err := t.connFor(peer)
	if err != nil {
		return raftengine.RequestVoteReply{}, err
	}
	reply := new(raftengine.RequestVoteReply)
	if err := conn.Invoke(ctx, "/"+serviceName+"/RequestVote", &args, reply); err != nil {
		return raftengine.RequestVoteReply{}, err
	}
	return *reply, nil
}

// AppendEntries issues the RPC to peer.
func (t *Transport) AppendEntries(ctx context.Context, peer raftengine.NodeID, args raftengine.AppendEntriesArgs) (raftengine.AppendEntriesReply, error) {
	conn, err := t.connFor(peer)
	if err != nil {
		return raftengine.AppendEntriesReply{}, err
	}
	reply := new(raftengine.AppendEntriesReply)
	if err := conn.Invoke(ctx, "/"+serviceName+"/AppendEntries", &args, reply); err != nil {
		return raftengine.AppendEntriesReply{}, err
	}
	return *reply, nil
}

// Close tears down every dialed connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, conn := range t.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
