package localdriver

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadExistsDelete(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	uri := d.Scheme() + "://pool/abc123"

	ok, err := d.Exists(ctx, uri)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Save(ctx, uri, bytes.NewReader([]byte("hello"))))

	ok, err = d.Exists(ctx, uri)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := d.Load(ctx, uri)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(data))

	require.NoError(t, d.Delete(ctx, uri))
	ok, err = d.Exists(ctx, uri)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRenameMovesContentAtomically(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	src := d.Scheme() + "://pool/staging-1"
	dst := d.Scheme() + "://pool/final"

	require.NoError(t, d.Save(ctx, src, bytes.NewReader([]byte("payload"))))
	require.NoError(t, d.Rename(ctx, src, dst))

	ok, err := d.Exists(ctx, src)
	require.NoError(t, err)
	assert.False(t, ok)

	rc, err := d.Load(ctx, dst)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "payload", string(data))
}

func TestLoadMissingReturnsError(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = d.Load(context.Background(), d.Scheme()+"://pool/missing")
	assert.Error(t, err)
}
