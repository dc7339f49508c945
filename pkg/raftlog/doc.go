// Package raftlog is the durable, ordered log RaftEngine appends to and
// replays from. It reuses hashicorp/raft-boltdb's BoltStore purely as an
// append/get/truncate log keyed by index — raftengine's own
// election/replication/apply state machine is hand-rolled and never
// constructs a hashicorp/raft.Raft.
package raftlog
