package raftengine

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned by Propose when the entry isn't applied within
// the configured propose timeout.
var ErrTimeout = errors.New("raftengine: propose timed out")

// NotLeaderError is returned by Propose on any non-leader node. Hint
// names the last known leader, if any (spec §4.4's NotLeader(hint)).
type NotLeaderError struct {
	Hint NodeID
}

func (e *NotLeaderError) Error() string {
	if e.Hint == "" {
		return "raftengine: not leader"
	}
	return fmt.Sprintf("raftengine: not leader, hint=%s", e.Hint)
}
