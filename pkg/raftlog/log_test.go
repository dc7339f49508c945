package raftlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raft.db")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendAndGetRoundTrips(t *testing.T) {
	l := openTestLog(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	err := l.Append([]Entry{
		{Index: 1, Term: 1, Name: "put", Command: []byte(`{"k":"v"}`), CreatedAt: now},
		{Index: 2, Term: 1, Name: "delete", Command: []byte(`{"k":"v"}`), CreatedAt: now},
	})
	require.NoError(t, err)

	got, err := l.Get(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Index)
	assert.Equal(t, uint64(1), got.Term)
	assert.Equal(t, "put", got.Name)
	assert.Equal(t, []byte(`{"k":"v"}`), got.Command)
	assert.True(t, got.CreatedAt.Equal(now))

	got2, err := l.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "delete", got2.Name)
}

func TestGetMissingIndexReturnsErrNotFound(t *testing.T) {
	l := openTestLog(t)
	_, err := l.Get(42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFirstAndLastIndex(t *testing.T) {
	l := openTestLog(t)

	first, err := l.FirstIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first)

	last, err := l.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), last)

	require.NoError(t, l.Append([]Entry{
		{Index: 5, Term: 1, Name: "a", Command: []byte("x")},
		{Index: 6, Term: 1, Name: "b", Command: []byte("y")},
		{Index: 7, Term: 2, Name: "c", Command: []byte("z")},
	}))

	first, err = l.FirstIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), first)

	last, err = l.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), last)
}

func TestDeleteRangeTruncatesConflictingSuffix(t *testing.T) {
	l := openTestLog(t)
	require.NoError(t, l.Append([]Entry{
		{Index: 1, Term: 1, Name: "a", Command: []byte("x")},
		{Index: 2, Term: 1, Name: "b", Command: []byte("y")},
		{Index: 3, Term: 1, Name: "c", Command: []byte("z")},
	}))

	require.NoError(t, l.DeleteRange(2, 3))

	_, err := l.Get(1)
	require.NoError(t, err)
	_, err = l.Get(2)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.Get(3)
	assert.ErrorIs(t, err, ErrNotFound)

	last, err := l.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last)
}

func TestAppendOverwritesConflictingEntry(t *testing.T) {
	l := openTestLog(t)
	require.NoError(t, l.Append([]Entry{
		{Index: 1, Term: 1, Name: "a", Command: []byte("old")},
	}))
	require.NoError(t, l.Append([]Entry{
		{Index: 1, Term: 2, Name: "a", Command: []byte("new")},
	}))

	got, err := l.Get(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Term)
	assert.Equal(t, []byte("new"), got.Command)
}
