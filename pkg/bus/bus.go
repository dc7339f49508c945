package bus

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuemby/databay/pkg/acl"
	"github.com/cuemby/databay/pkg/log"
	"github.com/cuemby/databay/pkg/message"
	"github.com/cuemby/databay/pkg/metrics"
	"github.com/cuemby/databay/pkg/trace"

	"github.com/cuemby/databay/pkg/clock"
)

const defaultIdempotencyTTL = 5 * time.Minute

// Config controls a Bus's worker pool sizing, backpressure limits, and
// idempotency cache.
type Config struct {
	Workers              int
	QueueDepth           int
	EnqueueTimeout       time.Duration
	IdempotencyCacheSize int
	IdempotencyTTL       time.Duration
	// RatePerSecond and Burst configure an optional golang.org/x/time/rate
	// limiter gating admission into the worker queues, smoothing bursts
	// ahead of the hard per-queue depth bound. Zero disables it.
	RatePerSecond float64
	Burst         int
	ACL           *acl.Engine
	Clock         clock.Clock
}

const defaultEnqueueTimeout = 2 * time.Second

// Bus routes messages to registered handlers through the fixed
// middleware chain, honoring partition-key ordering, idempotency, and
// category-aware retry (spec §4.3).
type Bus struct {
	registry *Registry
	queues   []chan *job
	acl      *acl.Engine
	idempo         *idempotencyCache
	limiter        *rate.Limiter
	clock          clock.Clock
	enqueueTimeout time.Duration
	stopCh         chan struct{}
}

// job is one enqueued dispatch awaiting a worker.
type job struct {
	ctx      context.Context
	typeN    string
	name     string
	envelope Envelope
	opts     DispatchOptions
	resultCh chan jobResult
}

type jobResult struct {
	response message.Response
	state    DispatchState
}

// DispatchOptions carries per-call authorization and retry context that
// doesn't live on the message itself.
type DispatchOptions struct {
	Subject     string
	RetryPolicy RetryPolicy
}

// New builds a Bus ready to Start.
func New(registry *Registry, cfg Config) (*Bus, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	if cfg.IdempotencyCacheSize <= 0 {
		cfg.IdempotencyCacheSize = 1024
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	ttl := cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}

	idempo, err := newIdempotencyCache(cfg.IdempotencyCacheSize, ttl, cfg.Clock)
	if err != nil {
		return nil, fmt.Errorf("bus: building idempotency cache: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	b := &Bus{
		registry:       registry,
		queues:         make([]chan *job, cfg.Workers),
		acl:            cfg.ACL,
		idempo:         idempo,
		limiter:        limiter,
		clock:          cfg.Clock,
		enqueueTimeout: cfg.EnqueueTimeout,
		stopCh:         make(chan struct{}),
	}
	for i := range b.queues {
		b.queues[i] = make(chan *job, cfg.QueueDepth)
	}
	return b, nil
}

// Start launches the worker pool.
func (b *Bus) Start() {
	for i := range b.queues {
		go b.worker(i)
	}
}

// Stop signals every worker to exit. Each worker first runs the jobs
// already sitting in its queue (see drain); in-flight jobs run to
// completion.
func (b *Bus) Stop() {
	close(b.stopCh)
}

// Register adds a handler to the underlying route registry.
func (b *Bus) Register(typeName, name string, priority int, handler HandlerFunc, opts ...RouteOption) {
	b.registry.Register(typeName, name, priority, handler, opts...)
}

func (b *Bus) queueIndex(partitionKey string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(partitionKey))
	return int(h.Sum64() % uint64(len(b.queues)))
}

// QueueDepths implements metrics.BusStats.
func (b *Bus) QueueDepths() map[string]int {
	depths := make(map[string]int, len(b.queues))
	for i, q := range b.queues {
		depths[fmt.Sprintf("worker-%d", i)] = len(q)
	}
	return depths
}

// Dispatch routes msg to the handler registered for (typeName, name),
// running the fixed middleware chain and honoring idempotency and
// retry policy. It blocks until the dispatch reaches a terminal state
// or ctx is cancelled.
func (b *Bus) Dispatch(ctx context.Context, typeName, name string, msg Envelope, opts DispatchOptions) (message.Response, error) {
	if _, ok := b.registry.resolve(typeName, name); !ok {
		return message.Response{}, ErrRouteNotFound
	}

	if idm, ok := msg.(idempotent); ok {
		if key, hasKey := idm.IdempotencyKeyValue(); hasKey {
			if resp, hit := b.idempo.get(msg.SenderID(), key); hit {
				return resp, nil
			}
		}
	}

	attempt := 1
	for {
		timer := metrics.NewTimer()
		resp, state, err := b.enqueueAndWait(ctx, typeName, name, msg, opts)
		timer.ObserveDurationVec(metrics.BusDispatchDuration, typeName)
		if err != nil {
			if state == StateCancelled {
				metrics.BusDispatchTotal.WithLabelValues(typeName, string(StateCancelled)).Inc()
				return cancelledResponse(), nil
			}
			metrics.BusDispatchTotal.WithLabelValues(typeName, "error").Inc()
			return message.Response{}, err
		}

		outcome := string(state)
		metrics.BusDispatchTotal.WithLabelValues(typeName, outcome).Inc()

		if state == StateFailed && shouldRetry(resp.Failure, attempt, opts.RetryPolicy) {
			metrics.BusRetriesTotal.Inc()
			msg.IncrementRetryCount()
			delay := opts.RetryPolicy.delay(attempt)
			attempt++
			select {
			case <-b.clock.After(delay):
			case <-ctx.Done():
				return cancelledResponse(), nil
			}
			continue
		}

		if idm, ok := msg.(idempotent); ok && state == StateCompleted {
			if key, hasKey := idm.IdempotencyKeyValue(); hasKey {
				b.idempo.put(msg.SenderID(), key, resp)
			}
		}
		return resp, nil
	}
}

func (b *Bus) enqueueAndWait(ctx context.Context, typeName, name string, msg Envelope, opts DispatchOptions) (message.Response, DispatchState, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return message.Response{}, StateCancelled, err
		}
	}

	idx := b.queueIndex(msg.PartitionKeyOf())
	j := &job{ctx: ctx, typeN: typeName, name: name, envelope: msg, opts: opts, resultCh: make(chan jobResult, 1)}

	enqueueCtx, cancel := context.WithTimeout(ctx, b.enqueueTimeout)
	defer cancel()

	select {
	case b.queues[idx] <- j:
	case <-enqueueCtx.Done():
		if ctx.Err() != nil {
			return message.Response{}, StateCancelled, ctx.Err()
		}
		return message.Response{}, StateFailed, ErrBackpressureExceeded
	}

	select {
	case res := <-j.resultCh:
		return res.response, res.state, nil
	case <-ctx.Done():
		return message.Response{}, StateCancelled, ctx.Err()
	}
}

func (b *Bus) worker(idx int) {
	for {
		select {
		case j := <-b.queues[idx]:
			resp, state := b.process(j)
			j.resultCh <- jobResult{response: resp, state: state}
		case <-b.stopCh:
			b.drain(idx)
			return
		}
	}
}

// drain runs every job already sitting in queue idx before the worker
// exits; Stop doesn't abandon in-flight or already-enqueued work.
func (b *Bus) drain(idx int) {
	for {
		select {
		case j := <-b.queues[idx]:
			resp, state := b.process(j)
			j.resultCh <- jobResult{response: resp, state: state}
		default:
			return
		}
	}
}

func cancelledResponse() message.Response {
	return message.Fail(message.Failure{
		Category:  message.CategoryLogical,
		ErrorCode: "cancelled",
		Title:     "dispatch cancelled",
	})
}

// process runs the fixed middleware chain: Exception, Trace, Validation,
// AccessControl, Deprecation, Audit, Handler, ReverseAudit, Response.
func (b *Bus) process(j *job) (resp message.Response, state DispatchState) {
	defer func() {
		if r := recover(); r != nil {
			resp = message.Fail(message.Failure{
				Category:  message.CategorySystem,
				ErrorCode: "panic",
				Title:     trace.RedactText(fmt.Sprintf("handler panicked: %v", r)),
			})
			state = StateFailed
		}
	}()

	route, ok := b.registry.resolve(j.typeN, j.name)
	if !ok {
		return message.Fail(message.Failure{Category: message.CategoryLogical, ErrorCode: "route_not_found"}), StateFailed
	}

	// Trace
	j.envelope.Recorder().Record("dispatch %s/%s trace=%s", j.typeN, j.name, j.envelope.TraceOf().TraceID)

	if j.ctx.Err() != nil {
		return cancelledResponse(), StateCancelled
	}

	// Validation
	state = StateValidating
	if v, ok := j.envelope.(validator); ok {
		if err := v.Validate(); err != nil {
			return message.Fail(message.Failure{Category: message.CategoryLogical, ErrorCode: "validation_failed", Title: err.Error()}), StateFailed
		}
	}

	// AccessControl
	state = StateAuthorizing
	if b.acl != nil && route.resourcePathPrefix != "" {
		if !b.acl.HasAccess(route.resourcePathPrefix, j.opts.Subject, route.requiredPermission) {
			metrics.ACLDenyTotal.Inc()
			return message.Fail(message.Failure{Category: message.CategorySecurity, ErrorCode: "access_denied", Title: "access denied"}), StateFailed
		}
		metrics.ACLAllowTotal.Inc()
	}

	// Deprecation
	if route.deprecated {
		j.envelope.Recorder().Record("route %s/%s is deprecated", j.typeN, j.name)
		log.WithTraceContext(j.envelope.TraceOf()).Warn().
			Msg(fmt.Sprintf("dispatch against deprecated route %s/%s", j.typeN, j.name))
	}

	// Audit (pre-handler)
	j.envelope.Recorder().Record("entering handler for %s/%s", j.typeN, j.name)

	if j.ctx.Err() != nil {
		return cancelledResponse(), StateCancelled
	}

	// Handler
	state = StateExecuting
	resp, err := route.handler(j.ctx, j.envelope)
	if err != nil {
		resp = message.Fail(message.Failure{Category: message.CategorySystem, ErrorCode: "handler_error", Title: err.Error()})
	}

	// ReverseAudit
	j.envelope.Recorder().Record("handler for %s/%s returned failure=%v", j.typeN, j.name, resp.IsFailure())

	// Response
	j.envelope.Lock()
	if resp.IsFailure() {
		return resp, StateFailed
	}
	return resp, StateCompleted
}
