package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDenyDominates grounds spec §8 scenario S4 exactly.
func TestDenyDominates(t *testing.T) {
	e, err := Open(t.TempDir())
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Grant("a/b", "u", Read|Write, 0))
	require.NoError(t, e.Grant("a", "u", 0, Write))

	assert.True(t, e.HasAccess("a/b/c", "u", Read))
	assert.False(t, e.HasAccess("a/b/c", "u", Write))
}

func TestWildcardSubjectApplies(t *testing.T) {
	e, err := Open(t.TempDir())
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Grant("docs", "*", Read, 0))
	assert.True(t, e.HasAccess("docs/readme", "anyone", Read))
	assert.False(t, e.HasAccess("docs/readme", "anyone", Write))
}

func TestNoGrantDeniesByDefault(t *testing.T) {
	e, err := Open(t.TempDir())
	require.NoError(t, err)
	defer e.Close()

	assert.False(t, e.HasAccess("unconfigured/path", "u", Read))
}

func TestPathNormalization(t *testing.T) {
	e, err := Open(t.TempDir())
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Grant("//a//b/", "u", Read, 0))
	assert.True(t, e.HasAccess("a/b/c", "u", Read))
	assert.True(t, e.HasAccess("/a/b", "u", Read))
}

// TestAddingDenyNeverRestoresAccess grounds invariant #6 from spec §8:
// adding a deny entry can only move a result from Allow toward Deny,
// never the reverse.
func TestAddingDenyNeverRestoresAccess(t *testing.T) {
	e, err := Open(t.TempDir())
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Grant("x/y", "u", FullControl, 0))
	require.True(t, e.HasAccess("x/y/z", "u", Write))

	require.NoError(t, e.Grant("x", "u", 0, Write))
	assert.False(t, e.HasAccess("x/y/z", "u", Write))
	// unrelated permission still allowed
	assert.True(t, e.HasAccess("x/y/z", "u", Read))
}

func TestRevokeRemovesEntry(t *testing.T) {
	e, err := Open(t.TempDir())
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Grant("a", "u", Read, 0))
	assert.True(t, e.HasAccess("a", "u", Read))

	require.NoError(t, e.Revoke("a", "u"))
	assert.False(t, e.HasAccess("a", "u", Read))
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, e.Grant("svc", "u", Read|Write, 0))
	require.NoError(t, e.Close())

	e2, err := Open(dir)
	require.NoError(t, err)
	defer e2.Close()
	assert.True(t, e2.HasAccess("svc", "u", Read))
}
