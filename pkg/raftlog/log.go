package raftlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Entry is one replicated log entry (spec §3's Raft log entry):
// {index, term, command (opaque bytes + logical name), createdAt}.
type Entry struct {
	Index     uint64
	Term      uint64
	Name      string
	Command   []byte
	CreatedAt time.Time
}

type entryPayload struct {
	Name      string    `json:"name"`
	Command   []byte    `json:"command"`
	CreatedAt time.Time `json:"createdAt"`
}

// ErrNotFound is returned by Get when no entry exists at the requested
// index.
var ErrNotFound = errors.New("raftlog: no entry at index")

// Log is the append-only, index-keyed log backing one RaftEngine.
type Log struct {
	store *raftboltdb.BoltStore
}

// Open creates or reopens the log stored at path.
func Open(path string) (*Log, error) {
	store, err := raftboltdb.NewBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("raftlog: opening store: %w", err)
	}
	return &Log{store: store}, nil
}

// Close releases the underlying database file.
func (l *Log) Close() error {
	return l.store.Close()
}

// Append persists entries in order. Callers append a contiguous run
// starting at LastIndex()+1; Append itself does not enforce
// contiguity, leaving that invariant to raftengine.
func (l *Log) Append(entries []Entry) error {
	logs := make([]*raft.Log, len(entries))
	for i, e := range entries {
		data, err := json.Marshal(entryPayload{Name: e.Name, Command: e.Command, CreatedAt: e.CreatedAt})
		if err != nil {
			return fmt.Errorf("raftlog: encoding entry %d: %w", e.Index, err)
		}
		logs[i] = &raft.Log{Index: e.Index, Term: e.Term, Type: raft.LogCommand, Data: data}
	}
	return l.store.StoreLogs(logs)
}

// Get retrieves the entry at index, or ErrNotFound if none exists.
func (l *Log) Get(index uint64) (Entry, error) {
	var rl raft.Log
	if err := l.store.GetLog(index, &rl); err != nil {
		if errors.Is(err, raft.ErrLogNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("raftlog: reading index %d: %w", index, err)
	}
	return decode(rl)
}

func decode(rl raft.Log) (Entry, error) {
	var payload entryPayload
	if err := json.Unmarshal(rl.Data, &payload); err != nil {
		return Entry{}, fmt.Errorf("raftlog: decoding index %d: %w", rl.Index, err)
	}
	return Entry{
		Index:     rl.Index,
		Term:      rl.Term,
		Name:      payload.Name,
		Command:   payload.Command,
		CreatedAt: payload.CreatedAt,
	}, nil
}

// FirstIndex returns the lowest index still in the log, 0 if empty.
func (l *Log) FirstIndex() (uint64, error) {
	return l.store.FirstIndex()
}

// LastIndex returns the highest index in the log, 0 if empty.
func (l *Log) LastIndex() (uint64, error) {
	return l.store.LastIndex()
}

// DeleteRange removes every entry with index in [min, max], used to
// truncate a follower's log from a conflicting index forward (spec
// §4.4's AppendEntries conflict handling).
func (l *Log) DeleteRange(min, max uint64) error {
	return l.store.DeleteRange(min, max)
}
