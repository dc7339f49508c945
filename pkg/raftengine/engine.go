package raftengine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/databay/pkg/clock"
	"github.com/cuemby/databay/pkg/durable"
	"github.com/cuemby/databay/pkg/log"
	"github.com/cuemby/databay/pkg/raftlog"
)

const metaKey = "meta"

const (
	defaultElectionTimeoutMin = 300 * time.Millisecond
	defaultElectionTimeoutMax = 600 * time.Millisecond
	defaultHeartbeatInterval  = 150 * time.Millisecond
	defaultProposeTimeout     = 5 * time.Second
)

// ApplyFunc is invoked once per committed entry, in strictly increasing
// index order, exactly once per node (spec §4.4's apply order).
type ApplyFunc func(index uint64, name string, command []byte)

// Config wires one Engine to its log, its persistent metadata store, its
// transport, and the cluster it participates in.
type Config struct {
	ID      NodeID
	Peers   []NodeID // every member, including ID itself
	Log     *raftlog.Log
	Durable *durable.State[PersistentState]
	Transport Transport
	Apply   ApplyFunc
	Clock   clock.Clock

	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
	ProposeTimeout     time.Duration
}

type proposeResult struct {
	index uint64
	err   error
}

// Engine is one node's Raft consensus participant.
type Engine struct {
	id        NodeID
	peers     []NodeID
	log       *raftlog.Log
	durable   *durable.State[PersistentState]
	transport Transport
	applyFn   ApplyFunc
	clock     clock.Clock

	electionTimeoutMin time.Duration
	electionTimeoutMax time.Duration
	heartbeatInterval  time.Duration
	proposeTimeout     time.Duration

	rng *rand.Rand

	mu          sync.Mutex
	state       NodeState
	currentTerm uint64
	votedFor    NodeID
	leaderID    NodeID
	commitIndex uint64
	lastApplied uint64
	nextIndex   map[NodeID]uint64
	matchIndex  map[NodeID]uint64
	pending     map[uint64]chan proposeResult

	resetElection chan struct{}
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// New constructs an Engine in the Follower state, loading any persisted
// {currentTerm, votedFor} from cfg.Durable. It does not start the
// election/heartbeat loop; call Start for that.
func New(cfg Config) (*Engine, error) {
	e := &Engine{
		id:        cfg.ID,
		peers:     cfg.Peers,
		log:       cfg.Log,
		durable:   cfg.Durable,
		transport: cfg.Transport,
		applyFn:   cfg.Apply,
		clock:     cfg.Clock,

		electionTimeoutMin: valueOr(cfg.ElectionTimeoutMin, defaultElectionTimeoutMin),
		electionTimeoutMax: valueOr(cfg.ElectionTimeoutMax, defaultElectionTimeoutMax),
		heartbeatInterval:  valueOr(cfg.HeartbeatInterval, defaultHeartbeatInterval),
		proposeTimeout:     valueOr(cfg.ProposeTimeout, defaultProposeTimeout),

		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		state:         Follower,
		nextIndex:     make(map[NodeID]uint64),
		matchIndex:    make(map[NodeID]uint64),
		pending:       make(map[uint64]chan proposeResult),
		resetElection: make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
	if e.clock == nil {
		e.clock = clock.New()
	}

	if persisted, ok := e.durable.TryGet(metaKey); ok {
		e.currentTerm = persisted.CurrentTerm
		e.votedFor = NodeID(persisted.VotedFor)
	}

	return e, nil
}

func valueOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Start binds the engine to its transport and begins the election/
// heartbeat loop.
func (e *Engine) Start() {
	e.transport.Bind(e.id, e)
	e.wg.Add(1)
	go e.run()
}

// Stop halts the election/heartbeat loop. Entries already committed
// remain durable; in-flight Propose calls observe ctx cancellation or
// ErrTimeout.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		state := e.state
		e.mu.Unlock()

		if state == Leader {
			select {
			case <-e.clock.After(e.heartbeatInterval):
				e.replicateAll()
			case <-e.resetElection:
			case <-e.stopCh:
				return
			}
			continue
		}

		select {
		case <-e.clock.After(e.randomElectionTimeout()):
			e.startElection()
		case <-e.resetElection:
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) randomElectionTimeout() time.Duration {
	span := int64(e.electionTimeoutMax - e.electionTimeoutMin)
	if span <= 0 {
		return e.electionTimeoutMin
	}
	return e.electionTimeoutMin + time.Duration(e.rng.Int63n(span))
}

func (e *Engine) notifyReset() {
	select {
	case e.resetElection <- struct{}{}:
	default:
	}
}

// IsLeader reports whether this node currently believes it is Leader
// (satisfies metrics.RaftStats).
func (e *Engine) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Leader
}

// CurrentTerm satisfies metrics.RaftStats.
func (e *Engine) CurrentTerm() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTerm
}

// CommitIndex satisfies metrics.RaftStats.
func (e *Engine) CommitIndex() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commitIndex
}

// LastApplied satisfies metrics.RaftStats.
func (e *Engine) LastApplied() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastApplied
}

// State returns the node's current role, mostly useful for tests and
// diagnostics.
func (e *Engine) State() NodeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) persistLocked() {
	if err := e.durable.Set(metaKey, PersistentState{CurrentTerm: e.currentTerm, VotedFor: string(e.votedFor)}); err != nil {
		log.Logger.Error().Err(err).Str("node", string(e.id)).Msg("raftengine: failed to persist term/vote")
	}
}

func (e *Engine) stepDownLocked(term uint64) {
	e.currentTerm = term
	e.state = Follower
	e.votedFor = ""
	e.persistLocked()
	e.notifyReset()
}

func (e *Engine) lastLogIndexTermLocked() (uint64, uint64) {
	last, err := e.log.LastIndex()
	if err != nil || last == 0 {
		return 0, 0
	}
	entry, err := e.log.Get(last)
	if err != nil {
		return last, 0
	}
	return entry.Index, entry.Term
}

func (e *Engine) otherPeersLocked() []NodeID {
	out := make([]NodeID, 0, len(e.peers))
	for _, p := range e.peers {
		if p != e.id {
			out = append(out, p)
		}
	}
	return out
}

// startElection runs the Candidate half of spec §4.4's election
// algorithm: increment term, vote for self, persist, solicit votes.
func (e *Engine) startElection() {
	e.mu.Lock()
	e.currentTerm++
	e.state = Candidate
	e.votedFor = e.id
	e.leaderID = ""
	term := e.currentTerm
	e.persistLocked()
	lastIndex, lastTerm := e.lastLogIndexTermLocked()
	peers := e.otherPeersLocked()
	e.mu.Unlock()

	needed := (len(peers)+1)/2 + 1

	if needed <= 1 {
		e.mu.Lock()
		if e.state == Candidate && e.currentTerm == term {
			e.becomeLeaderLocked()
		}
		e.mu.Unlock()
		return
	}

	var votesMu sync.Mutex
	votes := 1 // self

	for _, peer := range peers {
		peer := peer
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), e.heartbeatInterval*2)
			defer cancel()
			reply, err := e.transport.RequestVote(ctx, peer, RequestVoteArgs{
				Term:         term,
				CandidateID:  e.id,
				LastLogIndex: lastIndex,
				LastLogTerm:  lastTerm,
			})
			if err != nil {
				return
			}

			e.mu.Lock()
			defer e.mu.Unlock()
			if reply.Term > e.currentTerm {
				e.stepDownLocked(reply.Term)
				return
			}
			if e.state != Candidate || e.currentTerm != term || !reply.VoteGranted {
				return
			}

			votesMu.Lock()
			votes++
			v := votes
			votesMu.Unlock()

			if v >= needed {
				e.becomeLeaderLocked()
			}
		}()
	}
}

// becomeLeaderLocked transitions to Leader. Callers must hold e.mu.
func (e *Engine) becomeLeaderLocked() {
	e.state = Leader
	e.leaderID = e.id
	last, err := e.log.LastIndex()
	if err != nil {
		last = 0
	}
	e.nextIndex = make(map[NodeID]uint64)
	e.matchIndex = make(map[NodeID]uint64)
	for _, p := range e.peers {
		if p == e.id {
			continue
		}
		e.nextIndex[p] = last + 1
		e.matchIndex[p] = 0
	}
	e.notifyReset()
	go e.replicateAll()
}

// HandleRequestVote implements RPCHandler.
func (e *Engine) HandleRequestVote(ctx context.Context, args RequestVoteArgs) (RequestVoteReply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if args.Term > e.currentTerm {
		e.stepDownLocked(args.Term)
	}
	if args.Term < e.currentTerm {
		return RequestVoteReply{Term: e.currentTerm, VoteGranted: false}, nil
	}

	lastIndex, lastTerm := e.lastLogIndexTermLocked()
	logUpToDate := args.LastLogTerm > lastTerm || (args.LastLogTerm == lastTerm && args.LastLogIndex >= lastIndex)
	canVote := e.votedFor == "" || e.votedFor == args.CandidateID

	if canVote && logUpToDate {
		e.votedFor = args.CandidateID
		e.persistLocked()
		e.notifyReset()
		return RequestVoteReply{Term: e.currentTerm, VoteGranted: true}, nil
	}
	return RequestVoteReply{Term: e.currentTerm, VoteGranted: false}, nil
}

// HandleAppendEntries implements RPCHandler.
func (e *Engine) HandleAppendEntries(ctx context.Context, args AppendEntriesArgs) (AppendEntriesReply, error) {
	e.mu.Lock()

	if args.Term > e.currentTerm {
		e.stepDownLocked(args.Term)
	}
	if args.Term < e.currentTerm {
		term := e.currentTerm
		e.mu.Unlock()
		return AppendEntriesReply{Term: term, Success: false}, nil
	}

	e.state = Follower
	e.leaderID = args.LeaderID
	e.notifyReset()

	if args.PrevLogIndex > 0 {
		entry, err := e.log.Get(args.PrevLogIndex)
		if err != nil || entry.Term != args.PrevLogTerm {
			term := e.currentTerm
			e.mu.Unlock()
			return AppendEntriesReply{Term: term, Success: false}, nil
		}
	}

	for _, incoming := range args.Entries {
		existing, err := e.log.Get(incoming.Index)
		if err == nil && existing.Term != incoming.Term {
			last, lastErr := e.log.LastIndex()
			if lastErr == nil {
				if delErr := e.log.DeleteRange(incoming.Index, last); delErr != nil {
					log.Logger.Error().Err(delErr).Msg("raftengine: truncating conflicting suffix")
				}
			}
			err = raftlog.ErrNotFound
		}
		if err != nil {
			if appendErr := e.log.Append([]raftlog.Entry{incoming}); appendErr != nil {
				log.Logger.Error().Err(appendErr).Msg("raftengine: appending replicated entry")
			}
		}
	}

	if len(args.Entries) > 0 {
		lastNew := args.Entries[len(args.Entries)-1].Index
		if args.LeaderCommit > e.commitIndex {
			e.commitIndex = minIndex(args.LeaderCommit, lastNew)
		}
	} else if args.LeaderCommit > e.commitIndex {
		last, err := e.log.LastIndex()
		if err == nil {
			e.commitIndex = minIndex(args.LeaderCommit, last)
		}
	}

	term := e.currentTerm
	e.mu.Unlock()
	e.applyCommitted()
	return AppendEntriesReply{Term: term, Success: true}, nil
}

func minIndex(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// replicateAll fans out AppendEntries (heartbeat or replication) to every
// peer. Called on the heartbeat tick and immediately after each local
// append.
func (e *Engine) replicateAll() {
	e.mu.Lock()
	if e.state != Leader {
		e.mu.Unlock()
		return
	}
	term := e.currentTerm
	peers := e.otherPeersLocked()
	if len(peers) == 0 {
		// Single-node cluster: every append already has quorum (self).
		e.advanceCommitIndexLocked()
		e.mu.Unlock()
		e.applyCommitted()
		return
	}
	e.mu.Unlock()

	for _, peer := range peers {
		peer := peer
		go e.replicateTo(peer, term)
	}
}

func (e *Engine) replicateTo(peer NodeID, term uint64) {
	for {
		e.mu.Lock()
		if e.state != Leader || e.currentTerm != term {
			e.mu.Unlock()
			return
		}
		next := e.nextIndex[peer]
		if next == 0 {
			next = 1
		}
		prevIndex := next - 1
		var prevTerm uint64
		if prevIndex > 0 {
			if pe, err := e.log.Get(prevIndex); err == nil {
				prevTerm = pe.Term
			}
		}
		last, _ := e.log.LastIndex()
		var entries []raftlog.Entry
		for i := next; i <= last; i++ {
			if en, err := e.log.Get(i); err == nil {
				entries = append(entries, en)
			}
		}
		commit := e.commitIndex
		e.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), e.heartbeatInterval*2)
		reply, err := e.transport.AppendEntries(ctx, peer, AppendEntriesArgs{
			Term:         term,
			LeaderID:     e.id,
			PrevLogIndex: prevIndex,
			PrevLogTerm:  prevTerm,
			Entries:      entries,
			LeaderCommit: commit,
		})
		cancel()
		if err != nil {
			return
		}

		e.mu.Lock()
		if reply.Term > e.currentTerm {
			e.stepDownLocked(reply.Term)
			e.mu.Unlock()
			return
		}
		if e.state != Leader || e.currentTerm != term {
			e.mu.Unlock()
			return
		}
		if !reply.Success {
			if e.nextIndex[peer] > 1 {
				e.nextIndex[peer]--
			}
			e.mu.Unlock()
			continue
		}

		if len(entries) > 0 {
			e.nextIndex[peer] = entries[len(entries)-1].Index + 1
			e.matchIndex[peer] = entries[len(entries)-1].Index
		}
		e.advanceCommitIndexLocked()
		e.mu.Unlock()
		e.applyCommitted()
		return
	}
}

// advanceCommitIndexLocked implements the Leader's commit-index rule:
// the highest N with a quorum at matchIndex[p] >= N and log[N].term ==
// currentTerm (the term guard rules out the figure-8 anomaly). Callers
// must hold e.mu.
func (e *Engine) advanceCommitIndexLocked() {
	last, err := e.log.LastIndex()
	if err != nil {
		return
	}
	for n := last; n > e.commitIndex; n-- {
		entry, err := e.log.Get(n)
		if err != nil || entry.Term != e.currentTerm {
			continue
		}
		count := 1
		for _, p := range e.peers {
			if p == e.id {
				continue
			}
			if e.matchIndex[p] >= n {
				count++
			}
		}
		if count*2 > len(e.peers) {
			e.commitIndex = n
			return
		}
	}
}

// applyCommitted invokes applyFn for every entry between lastApplied and
// commitIndex, in order, and completes any pending Propose waiting on
// that index.
func (e *Engine) applyCommitted() {
	for {
		e.mu.Lock()
		if e.lastApplied >= e.commitIndex {
			e.mu.Unlock()
			return
		}
		idx := e.lastApplied + 1
		e.mu.Unlock()

		entry, err := e.log.Get(idx)
		if err != nil {
			return
		}

		if e.applyFn != nil {
			e.applyFn(entry.Index, entry.Name, entry.Command)
		}

		e.mu.Lock()
		e.lastApplied = idx
		ch, ok := e.pending[idx]
		if ok {
			delete(e.pending, idx)
		}
		e.mu.Unlock()

		if ok {
			select {
			case ch <- proposeResult{index: idx}:
			default:
			}
		}
	}
}

// Propose appends name/command to the log if this node is Leader,
// replicates it, and blocks until it is applied, the ctx is cancelled, or
// the propose timeout elapses (spec §4.4's propose path).
func (e *Engine) Propose(ctx context.Context, name string, command []byte) (uint64, error) {
	e.mu.Lock()
	if e.state != Leader {
		hint := e.leaderID
		e.mu.Unlock()
		return 0, &NotLeaderError{Hint: hint}
	}

	last, err := e.log.LastIndex()
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	index := last + 1
	entry := raftlog.Entry{
		Index:     index,
		Term:      e.currentTerm,
		Name:      name,
		Command:   command,
		CreatedAt: e.clock.NowUTC(),
	}
	if err := e.log.Append([]raftlog.Entry{entry}); err != nil {
		e.mu.Unlock()
		return 0, err
	}

	done := make(chan proposeResult, 1)
	e.pending[index] = done
	e.mu.Unlock()

	go e.replicateAll()

	select {
	case res := <-done:
		return res.index, res.err
	case <-ctx.Done():
		e.clearPending(index)
		return 0, ctx.Err()
	case <-e.clock.After(e.proposeTimeout):
		e.clearPending(index)
		return 0, ErrTimeout
	}
}

func (e *Engine) clearPending(index uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, index)
}
