package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/databay/pkg/bus"
	"github.com/cuemby/databay/pkg/clock"
	"github.com/cuemby/databay/pkg/message"
)

type fakePlugin struct {
	handshakeErr error
	verifyErr    error
	startErr     error
	routes       []RouteSpec
	started      bool
	stopped      bool
	stopBlock    chan struct{}
}

func (f *fakePlugin) Handshake(ctx context.Context, req HandshakeRequest) (HandshakeResult, error) {
	if f.handshakeErr != nil {
		return HandshakeResult{}, f.handshakeErr
	}
	return HandshakeResult{Capabilities: []string{"demo"}}, nil
}

func (f *fakePlugin) Routes() []RouteSpec { return f.routes }

func (f *fakePlugin) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakePlugin) Stop(ctx context.Context) error {
	if f.stopBlock != nil {
		select {
		case <-f.stopBlock:
		case <-ctx.Done():
		}
	}
	f.stopped = true
	return nil
}

type verifyingPlugin struct {
	fakePlugin
}

func (v *verifyingPlugin) Verify(ctx context.Context) error { return v.verifyErr }

func writeManifest(t *testing.T, dir, id string, deps []string, factory string) {
	t.Helper()
	content := "id: " + id + "\nname: " + id + "\nversion: 1.0.0\ncategory: test\nfactory: " + factory + "\n"
	if len(deps) > 0 {
		content += "dependencies:\n"
		for _, d := range deps {
			content += "  - " + d + "\n"
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".yaml"), []byte(content), 0o644))
}

func TestLoadAllHandshakeAndStart(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "alpha", nil, "alpha-factory")

	registry := bus.NewRegistry()
	host := New(registry, Config{Clock: clock.New()})

	p := &fakePlugin{}
	host.RegisterFactory("alpha-factory", func() Plugin { return p })

	require.NoError(t, host.LoadAll(context.Background(), dir))

	state, ok := host.State("alpha")
	require.True(t, ok)
	assert.Equal(t, StateRunning, state)
	assert.True(t, p.started)
}

func TestLoadAllRespectsDependencyOrder(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "base", nil, "base-factory")
	writeManifest(t, dir, "derived", []string{"base"}, "derived-factory")

	registry := bus.NewRegistry()
	host := New(registry, Config{Clock: clock.New()})
	host.RegisterFactory("base-factory", func() Plugin { return &fakePlugin{} })
	host.RegisterFactory("derived-factory", func() Plugin { return &fakePlugin{} })

	require.NoError(t, host.LoadAll(context.Background(), dir))

	baseState, _ := host.State("base")
	derivedState, _ := host.State("derived")
	assert.Equal(t, StateRunning, baseState)
	assert.Equal(t, StateRunning, derivedState)
}

func TestLoadAllQuarantinesFailedHandshake(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "broken", nil, "broken-factory")

	registry := bus.NewRegistry()
	host := New(registry, Config{Clock: clock.New()})
	host.RegisterFactory("broken-factory", func() Plugin {
		return &fakePlugin{handshakeErr: assertErr("boom")}
	})

	require.NoError(t, host.LoadAll(context.Background(), dir))
	state, ok := host.State("broken")
	require.True(t, ok)
	assert.Equal(t, StateQuarantined, state)
}

func TestLoadAllRollsBackOnVerifyFailure(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "shaky", nil, "shaky-factory")

	registry := bus.NewRegistry()
	host := New(registry, Config{Clock: clock.New()})
	host.RegisterFactory("shaky-factory", func() Plugin {
		vp := &verifyingPlugin{}
		vp.verifyErr = assertErr("unhealthy")
		vp.routes = []RouteSpec{{
			TypeName: "shaky.op",
			Handler: func(ctx context.Context, msg bus.Envelope) (message.Response, error) {
				return message.OK("x"), nil
			},
		}}
		return vp
	})

	require.NoError(t, host.LoadAll(context.Background(), dir))

	state, ok := host.State("shaky")
	require.True(t, ok)
	assert.Equal(t, StateQuarantined, state)

	assert.False(t, registry.Has("shaky.op", ""))
}

func TestLoadAllRejectsDuplicateRoutesWithinPlugin(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "dup", nil, "dup-factory")

	registry := bus.NewRegistry()
	host := New(registry, Config{Clock: clock.New()})
	handler := func(ctx context.Context, msg bus.Envelope) (message.Response, error) {
		return message.OK(nil), nil
	}
	host.RegisterFactory("dup-factory", func() Plugin {
		return &fakePlugin{routes: []RouteSpec{
			{TypeName: "dup.op", Handler: handler},
			{TypeName: "dup.op", Handler: handler},
		}}
	})

	require.NoError(t, host.LoadAll(context.Background(), dir))
	state, _ := host.State("dup")
	assert.Equal(t, StateQuarantined, state)
}

func TestUnloadRemovesRoutesAndStopsPlugin(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "gamma", nil, "gamma-factory")

	registry := bus.NewRegistry()
	host := New(registry, Config{Clock: clock.New(), DrainTimeout: 50 * time.Millisecond})
	p := &fakePlugin{routes: []RouteSpec{{
		TypeName: "gamma.op",
		Handler: func(ctx context.Context, msg bus.Envelope) (message.Response, error) {
			return message.OK(nil), nil
		},
	}}}
	host.RegisterFactory("gamma-factory", func() Plugin { return p })

	require.NoError(t, host.LoadAll(context.Background(), dir))
	require.NoError(t, host.Unload(context.Background(), "gamma"))

	state, _ := host.State("gamma")
	assert.Equal(t, StateUnloaded, state)
	assert.True(t, p.stopped)

	assert.False(t, registry.Has("gamma.op", ""))
}

func TestLifecycleEventsEmitted(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "delta", nil, "delta-factory")

	registry := bus.NewRegistry()
	host := New(registry, Config{Clock: clock.New()})
	host.RegisterFactory("delta-factory", func() Plugin { return &fakePlugin{} })

	sub := host.Subscribe()
	defer host.Unsubscribe(sub)

	require.NoError(t, host.LoadAll(context.Background(), dir))

	var kinds []EventKind
	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub:
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for lifecycle event")
		}
	}
	assert.Equal(t, []EventKind{EventDiscovered, EventLoaded, EventStarted}, kinds)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
