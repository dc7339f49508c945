// Package raftengine is the hand-rolled election/replication/apply state
// machine described in spec §4.4: Follower/Candidate/Leader node states,
// randomized election timeouts, heartbeats, RequestVote and AppendEntries
// RPC handling, and a propose path that returns a NotLeaderError or a
// completion once the entry is committed and applied. It never constructs
// a hashicorp/raft.Raft; the durable log lives in pkg/raftlog and
// persistent {currentTerm, votedFor} metadata lives in pkg/durable.
package raftengine
