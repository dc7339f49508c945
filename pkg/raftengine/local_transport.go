package raftengine

import (
	"context"
	"fmt"
	"sync"
)

// LocalTransport delivers RPCs via direct in-process calls. Every engine
// sharing one *LocalTransport can reach every other; it backs the unit
// tests. cmd/databayd uses the gRPC transport instead.
type LocalTransport struct {
	mu       sync.RWMutex
	handlers map[NodeID]RPCHandler
	blocked  map[NodeID]bool
}

// NewLocalTransport constructs an empty transport; engines bind to it as
// they start.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{
		handlers: make(map[NodeID]RPCHandler),
		blocked:  make(map[NodeID]bool),
	}
}

// Bind registers handler as the recipient for RPCs addressed to self.
func (t *LocalTransport) Bind(self NodeID, handler RPCHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[self] = handler
}

// Partition makes peer unreachable, simulating a network split.
func (t *LocalTransport) Partition(peer NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blocked[peer] = true
}

// Heal makes peer reachable again.
func (t *LocalTransport) Heal(peer NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.blocked, peer)
}

func (t *LocalTransport) handlerFor(peer NodeID) (RPCHandler, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.blocked[peer] {
		return nil, fmt.Errorf("raftengine: peer %s is partitioned", peer)
	}
	h, ok := t.handlers[peer]
	if !ok {
		return nil, fmt.Errorf("raftengine: no local peer bound for %s", peer)
	}
	return h, nil
}

// RequestVote delivers args directly to peer's bound handler.
func (t *LocalTransport) RequestVote(ctx context.Context, peer NodeID, args RequestVoteArgs) (RequestVoteReply, error) {
	h, err := t.handlerFor(peer)
	if err != nil {
		return RequestVoteReply{}, err
	}
	return h.HandleRequestVote(ctx, args)
}

// AppendEntries delivers args directly to peer's bound handler.
func (t *LocalTransport) AppendEntries(ctx context.Context, peer NodeID, args AppendEntriesArgs) (AppendEntriesReply, error) {
	h, err := t.handlerFor(peer)
	if err != nil {
		return AppendEntriesReply{}, err
	}
	return h.HandleAppendEntries(ctx, args)
}
