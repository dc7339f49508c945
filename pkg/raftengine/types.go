package raftengine

import "github.com/cuemby/databay/pkg/raftlog"

// NodeID identifies one member of the cluster.
type NodeID string

// NodeState is one of the three Raft roles.
type NodeState int

const (
	Follower NodeState = iota
	Candidate
	Leader
)

func (s NodeState) String() string {
	switch s {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// PersistentState is the {currentTerm, votedFor} record that must survive
// restart and be durable before the RPC depending on it is sent (spec §4.4).
type PersistentState struct {
	CurrentTerm uint64
	VotedFor    string
}

// RequestVoteArgs is sent by a Candidate soliciting votes.
type RequestVoteArgs struct {
	Term         uint64
	CandidateID  NodeID
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteReply answers a RequestVoteArgs.
type RequestVoteReply struct {
	Term        uint64
	VoteGranted bool
}

// AppendEntriesArgs replicates entries (or, with Entries empty, serves as
// a heartbeat) from the Leader to a follower.
type AppendEntriesArgs struct {
	Term         uint64
	LeaderID     NodeID
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []raftlog.Entry
	LeaderCommit uint64
}

// AppendEntriesReply answers an AppendEntriesArgs.
type AppendEntriesReply struct {
	Term    uint64
	Success bool
}
