package mirrordriver

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/databay/pkg/clock"
	"github.com/cuemby/databay/pkg/storagepool/memdriver"
)

func TestSaveReplicatesToBothSides(t *testing.T) {
	primary := memdriver.New("mirror")
	secondary := memdriver.New("mirror")
	d := New(Config{Scheme: "mirror", Primary: primary, Secondary: secondary, Clock: clock.New()})

	ctx := context.Background()
	uri := "mirror://pool/one"
	require.NoError(t, d.Save(ctx, uri, bytes.NewReader([]byte("payload"))))

	assert.True(t, primary.Contains(uri))
	assert.True(t, secondary.Contains(uri))
}

func TestSaveSucceedsWhenSecondaryFails(t *testing.T) {
	primary := memdriver.New("mirror")
	secondary := memdriver.New("mirror")
	d := New(Config{Scheme: "mirror", Primary: primary, Secondary: secondary, Clock: clock.New()})

	ctx := context.Background()
	uri := "mirror://pool/two"
	secondary.Fail(uri)

	err := d.Save(ctx, uri, bytes.NewReader([]byte("payload")))
	assert.NoError(t, err)
	assert.True(t, primary.Contains(uri))
}

func TestLoadFailsOverToSecondary(t *testing.T) {
	primary := memdriver.New("mirror")
	secondary := memdriver.New("mirror")
	d := New(Config{Scheme: "mirror", Primary: primary, Secondary: secondary, Clock: clock.New()})

	ctx := context.Background()
	uri := "mirror://pool/three"
	require.NoError(t, secondary.Save(ctx, uri, bytes.NewReader([]byte("on secondary"))))
	primary.Fail(uri)

	rc, err := d.Load(ctx, uri)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "on secondary", string(data))
}

func TestLoadFailsWhenBothSidesFail(t *testing.T) {
	primary := memdriver.New("mirror")
	secondary := memdriver.New("mirror")
	d := New(Config{Scheme: "mirror", Primary: primary, Secondary: secondary, Clock: clock.New()})

	_, err := d.Load(context.Background(), "mirror://pool/missing")
	assert.Error(t, err)
}

func TestRepairLoopHealsUnhealthySide(t *testing.T) {
	primary := memdriver.New("mirror")
	secondary := memdriver.New("mirror")
	d := New(Config{
		Scheme:      "mirror",
		Primary:     primary,
		Secondary:   secondary,
		Clock:       clock.New(),
		BaseBackoff: 5 * time.Millisecond,
		MaxBackoff:  20 * time.Millisecond,
	})
	d.Start()
	defer d.Stop()

	ctx := context.Background()
	uri := "mirror://pool/four"
	secondary.Fail(uri)
	require.NoError(t, d.Save(ctx, uri, bytes.NewReader([]byte("repair me"))))
	assert.False(t, secondary.Contains(uri))

	secondary.Unfail(uri)
	require.Eventually(t, func() bool {
		return secondary.Contains(uri)
	}, time.Second, 5*time.Millisecond, "secondary should be repaired")
}
