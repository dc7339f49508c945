package grpctransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/databay/pkg/raftengine"
)

func TestJSONCodecRoundTripsRequestVoteArgs(t *testing.T) {
	c := jsonCodec{}
	args := raftengine.RequestVoteArgs{Term: 3, CandidateID: "n2", LastLogIndex: 5, LastLogTerm: 2}

	data, err := c.Marshal(&args)
	require.NoError(t, err)

	var out raftengine.RequestVoteArgs
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, args, out)
}

func TestJSONCodecName(t *testing.T) {
	assert.Equal(t, "json", jsonCodec{}.Name())
}
