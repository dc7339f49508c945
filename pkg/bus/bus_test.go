package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/databay/pkg/acl"
	"github.com/cuemby/databay/pkg/clock"
	"github.com/cuemby/databay/pkg/message"
)

func okHandler(ctx context.Context, msg Envelope) (message.Response, error) {
	return message.OK("ok"), nil
}

func newTestBus(t *testing.T, cfg Config) *Bus {
	t.Helper()
	registry := NewRegistry()
	b, err := New(registry, cfg)
	require.NoError(t, err)
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func TestRegisterHigherPriorityWins(t *testing.T) {
	registry := NewRegistry()
	low := func(ctx context.Context, msg Envelope) (message.Response, error) {
		return message.OK("low"), nil
	}
	high := func(ctx context.Context, msg Envelope) (message.Response, error) {
		return message.OK("high"), nil
	}

	registry.Register("widget.created", "", 1, low)
	registry.Register("widget.created", "", 5, high)

	route, ok := registry.resolve("widget.created", "")
	require.True(t, ok)
	resp, err := route.handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "high", resp.Data)
}

func TestRegisterEqualPriorityKeepsFirst(t *testing.T) {
	registry := NewRegistry()
	first := func(ctx context.Context, msg Envelope) (message.Response, error) {
		return message.OK("first"), nil
	}
	second := func(ctx context.Context, msg Envelope) (message.Response, error) {
		return message.OK("second"), nil
	}

	registry.Register("widget.created", "", 3, first)
	registry.Register("widget.created", "", 3, second)

	route, ok := registry.resolve("widget.created", "")
	require.True(t, ok)
	resp, err := route.handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Data)
}

func TestDispatchSameSenderAllComplete(t *testing.T) {
	registry := NewRegistry()
	b, err := New(registry, Config{Workers: 4, QueueDepth: 16, Clock: clock.New()})
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int

	registry.Register("job.run", "", 0, func(ctx context.Context, msg Envelope) (message.Response, error) {
		mu.Lock()
		order = append(order, len(order))
		mu.Unlock()
		return message.OK(nil), nil
	})
	b.Start()
	defer b.Stop()

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := message.NewCommand("same-sender")
			resp, err := b.Dispatch(context.Background(), "job.run", "", cmd, DispatchOptions{})
			if err == nil && !resp.IsFailure() {
				results[i] = "ok"
			}
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "ok", r)
	}
	assert.Len(t, order, n)
}

func TestDispatchRouteNotFound(t *testing.T) {
	b := newTestBus(t, Config{Workers: 1, QueueDepth: 1, Clock: clock.New()})
	cmd := message.NewCommand("sender")
	_, err := b.Dispatch(context.Background(), "no.such.route", "", cmd, DispatchOptions{})
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestDispatchIdempotencyShortCircuits(t *testing.T) {
	registry := NewRegistry()
	calls := 0
	registry.Register("order.place", "", 0, func(ctx context.Context, msg Envelope) (message.Response, error) {
		calls++
		return message.OK(calls), nil
	})
	b, err := New(registry, Config{Workers: 2, QueueDepth: 8, Clock: clock.New()})
	require.NoError(t, err)
	b.Start()
	defer b.Stop()

	key := "order-123"
	cmd1 := message.NewCommand("sender")
	cmd1.IdempotencyKey = &key
	resp1, err := b.Dispatch(context.Background(), "order.place", "", cmd1, DispatchOptions{})
	require.NoError(t, err)
	require.False(t, resp1.IsFailure())

	cmd2 := message.NewCommand("sender")
	cmd2.IdempotencyKey = &key
	resp2, err := b.Dispatch(context.Background(), "order.place", "", cmd2, DispatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, resp1.Data, resp2.Data)
}

func TestDispatchACLDeniesRoute(t *testing.T) {
	engine, err := acl.Open(t.TempDir())
	require.NoError(t, err)
	defer engine.Close()
	require.NoError(t, engine.Grant("orders", "reader", acl.Read, 0))

	registry := NewRegistry()
	registry.Register("order.delete", "", 0, okHandler, RequireAccess("orders", acl.Delete))

	b, err := New(registry, Config{Workers: 1, QueueDepth: 4, Clock: clock.New(), ACL: engine})
	require.NoError(t, err)
	b.Start()
	defer b.Stop()

	cmd := message.NewCommand("reader")
	resp, err := b.Dispatch(context.Background(), "order.delete", "", cmd, DispatchOptions{Subject: "reader"})
	require.NoError(t, err)
	require.True(t, resp.IsFailure())
	assert.Equal(t, message.CategorySecurity, resp.Failure.Category)
}

func TestDispatchACLAllowsRoute(t *testing.T) {
	engine, err := acl.Open(t.TempDir())
	require.NoError(t, err)
	defer engine.Close()
	require.NoError(t, engine.Grant("orders", "admin", acl.Delete, 0))

	registry := NewRegistry()
	registry.Register("order.delete", "", 0, okHandler, RequireAccess("orders", acl.Delete))

	b, err := New(registry, Config{Workers: 1, QueueDepth: 4, Clock: clock.New(), ACL: engine})
	require.NoError(t, err)
	b.Start()
	defer b.Stop()

	cmd := message.NewCommand("admin")
	resp, err := b.Dispatch(context.Background(), "order.delete", "", cmd, DispatchOptions{Subject: "admin"})
	require.NoError(t, err)
	assert.False(t, resp.IsFailure())
}

func TestDispatchCancelledContext(t *testing.T) {
	registry := NewRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	registry.Register("slow.op", "", 0, func(ctx context.Context, msg Envelope) (message.Response, error) {
		close(started)
		<-release
		return message.OK(nil), nil
	})

	b, err := New(registry, Config{Workers: 1, QueueDepth: 4, Clock: clock.New()})
	require.NoError(t, err)
	b.Start()
	defer func() {
		close(release)
		b.Stop()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	var resp message.Response
	var dispatchErr error
	done := make(chan struct{})
	go func() {
		cmd := message.NewCommand("sender")
		resp, dispatchErr = b.Dispatch(ctx, "slow.op", "", cmd, DispatchOptions{})
		close(done)
	}()

	<-started
	cancel()
	<-done

	require.NoError(t, dispatchErr)
	require.True(t, resp.IsFailure())
	assert.Equal(t, message.CategoryLogical, resp.Failure.Category)
	assert.Equal(t, "cancelled", resp.Failure.ErrorCode)
}

func TestDispatchRetriesTransientFailure(t *testing.T) {
	registry := NewRegistry()
	var attempts int
	registry.Register("flaky.op", "", 0, func(ctx context.Context, msg Envelope) (message.Response, error) {
		attempts++
		if attempts < 3 {
			return message.Fail(message.Failure{Category: message.CategoryTransient, ErrorCode: "try_again"}), nil
		}
		return message.OK("done"), nil
	})

	fake := clock.NewFake(time.Now())
	b, err := New(registry, Config{Workers: 1, QueueDepth: 4, Clock: fake})
	require.NoError(t, err)
	b.Start()
	defer b.Stop()

	policy := RetryPolicy{Strategy: RetryConstant, MaxAttempts: 5, BaseDelay: 10 * time.Millisecond}

	resultCh := make(chan message.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		cmd := message.NewCommand("sender")
		resp, err := b.Dispatch(context.Background(), "flaky.op", "", cmd, DispatchOptions{RetryPolicy: policy})
		resultCh <- resp
		errCh <- err
	}()

	// Two retries are owed before the handler finally succeeds; advance
	// the fake clock past each backoff delay as it comes due.
	for i := 0; i < 2; i++ {
		time.Sleep(5 * time.Millisecond)
		fake.Advance(10 * time.Millisecond)
	}

	resp := <-resultCh
	err = <-errCh
	require.NoError(t, err)
	require.False(t, resp.IsFailure())
	assert.Equal(t, "done", resp.Data)
	assert.Equal(t, 3, attempts)
}

func TestDispatchNeverRetriesLogicalFailure(t *testing.T) {
	registry := NewRegistry()
	var attempts int
	registry.Register("bad.input", "", 0, func(ctx context.Context, msg Envelope) (message.Response, error) {
		attempts++
		return message.Fail(message.Failure{Category: message.CategoryLogical, ErrorCode: "invalid"}), nil
	})

	b, err := New(registry, Config{Workers: 1, QueueDepth: 4, Clock: clock.New()})
	require.NoError(t, err)
	b.Start()
	defer b.Stop()

	policy := RetryPolicy{Strategy: RetryConstant, MaxAttempts: 5, BaseDelay: time.Millisecond}
	cmd := message.NewCommand("sender")
	resp, err := b.Dispatch(context.Background(), "bad.input", "", cmd, DispatchOptions{RetryPolicy: policy})
	require.NoError(t, err)
	require.True(t, resp.IsFailure())
	assert.Equal(t, 1, attempts)
}

func TestDispatchBackpressureExceeded(t *testing.T) {
	registry := NewRegistry()
	block := make(chan struct{})
	registry.Register("block.op", "", 0, func(ctx context.Context, msg Envelope) (message.Response, error) {
		<-block
		return message.OK(nil), nil
	})

	b, err := New(registry, Config{
		Workers:        1,
		QueueDepth:     1,
		EnqueueTimeout: 20 * time.Millisecond,
		Clock:          clock.New(),
	})
	require.NoError(t, err)
	b.Start()
	defer func() {
		close(block)
		b.Stop()
	}()

	// First dispatch occupies the single worker; the second fills the
	// one-deep queue; the third has nowhere to land and must time out.
	go func() {
		cmd := message.NewCommand("a")
		_, _ = b.Dispatch(context.Background(), "block.op", "", cmd, DispatchOptions{})
	}()
	go func() {
		cmd := message.NewCommand("b")
		_, _ = b.Dispatch(context.Background(), "block.op", "", cmd, DispatchOptions{})
	}()
	time.Sleep(10 * time.Millisecond)

	cmd := message.NewCommand("c")
	_, err = b.Dispatch(context.Background(), "block.op", "", cmd, DispatchOptions{})
	assert.ErrorIs(t, err, ErrBackpressureExceeded)
}

func TestQueueDepthsReportsPerWorker(t *testing.T) {
	registry := NewRegistry()
	b, err := New(registry, Config{Workers: 3, QueueDepth: 4, Clock: clock.New()})
	require.NoError(t, err)
	depths := b.QueueDepths()
	assert.Len(t, depths, 3)
	for _, d := range depths {
		assert.Equal(t, 0, d)
	}
}
