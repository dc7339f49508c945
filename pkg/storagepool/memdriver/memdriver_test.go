package memdriver

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadExistsDelete(t *testing.T) {
	d := New("mem")
	ctx := context.Background()
	uri := "mem://pool/one"

	ok, err := d.Exists(ctx, uri)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Save(ctx, uri, bytes.NewReader([]byte("data"))))

	ok, err = d.Exists(ctx, uri)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := d.Load(ctx, uri)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "data", string(got))

	require.NoError(t, d.Delete(ctx, uri))
	assert.False(t, d.Contains(uri))
}

func TestFailInjectsErrorsUntilUnfailed(t *testing.T) {
	d := New("mem")
	ctx := context.Background()
	uri := "mem://pool/two"
	require.NoError(t, d.Save(ctx, uri, bytes.NewReader([]byte("x"))))

	d.Fail(uri)
	_, err := d.Load(ctx, uri)
	assert.Error(t, err)

	d.Unfail(uri)
	rc, err := d.Load(ctx, uri)
	require.NoError(t, err)
	rc.Close()
}

func TestWildcardFailAffectsEveryURI(t *testing.T) {
	d := New("mem")
	ctx := context.Background()
	d.Fail("*")
	err := d.Save(ctx, "mem://pool/anything", bytes.NewReader([]byte("x")))
	assert.Error(t, err)
}

func TestRenameMovesEntry(t *testing.T) {
	d := New("mem")
	ctx := context.Background()
	require.NoError(t, d.Save(ctx, "mem://pool/src", bytes.NewReader([]byte("v"))))
	require.NoError(t, d.Rename(ctx, "mem://pool/src", "mem://pool/dst"))
	assert.False(t, d.Contains("mem://pool/src"))
	assert.True(t, d.Contains("mem://pool/dst"))
}
