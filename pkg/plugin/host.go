package plugin

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/databay/pkg/bus"
	"github.com/cuemby/databay/pkg/clock"
	"github.com/cuemby/databay/pkg/log"
	"github.com/cuemby/databay/pkg/message"
	"github.com/cuemby/databay/pkg/metrics"
)

const defaultDrainTimeout = 10 * time.Second

// Config controls a Host's drain deadline and clock source.
type Config struct {
	DrainTimeout time.Duration
	Clock        clock.Clock
}

// Host discovers, loads, and unloads plugins against a bus.Registry, in
// dependency order, emitting lifecycle events as it goes (spec §4.2).
type Host struct {
	registry     *bus.Registry
	clock        clock.Clock
	drainTimeout time.Duration
	broker       *eventBroker

	mu        sync.RWMutex
	factories map[string]Factory
	records   map[string]*record
}

type record struct {
	descriptor Descriptor
	state      State
	plugin     Plugin
	namespace  *Namespace
	cancel     context.CancelFunc
	inFlight   sync.WaitGroup

	stopDeadline atomic.Pointer[time.Time]
}

// New builds a Host bound to registry.
func New(registry *bus.Registry, cfg Config) *Host {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Host{
		registry:     registry,
		clock:        cfg.Clock,
		drainTimeout: cfg.DrainTimeout,
		broker:       newEventBroker(),
		factories:    make(map[string]Factory),
		records:      make(map[string]*record),
	}
}

// RegisterFactory associates a manifest's factory key with a
// constructor. Discovery resolves manifests to factories by this key;
// there is no dynamic code loading.
func (h *Host) RegisterFactory(key string, factory Factory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.factories[key] = factory
}

// Subscribe returns a channel of lifecycle events. Call Unsubscribe
// when done to release it.
func (h *Host) Subscribe() Subscriber {
	return h.broker.subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (h *Host) Unsubscribe(sub Subscriber) {
	h.broker.unsubscribe(sub)
}

// State reports the current lifecycle state of a loaded plugin.
func (h *Host) State(id string) (State, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.records[id]
	if !ok {
		return "", false
	}
	return rec.state, true
}

// PluginCountsByState implements metrics.PluginStats.
func (h *Host) PluginCountsByState() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	counts := make(map[string]int)
	for _, rec := range h.records {
		counts[string(rec.state)]++
	}
	return counts
}

func (h *Host) emit(pluginID string, kind EventKind, reason string) {
	h.broker.publish(LifecycleEvent{PluginID: pluginID, Kind: kind, Reason: reason, At: h.clock.NowUTC()})
}

// LoadAll discovers manifests under dir and loads every plugin they
// declare in dependency order, continuing past any single plugin's
// failure (that plugin lands in Quarantined; its dependents, lacking a
// Ready dependency, are quarantined in turn). A cycle or an unresolved
// dependency edge aborts the whole batch before anything loads.
func (h *Host) LoadAll(ctx context.Context, dir string) error {
	descriptors, err := Discover(dir)
	if err != nil {
		return err
	}
	for _, d := range descriptors {
		h.registerDiscovered(d)
	}

	ordered, err := topoSort(descriptors)
	if err != nil {
		for _, d := range descriptors {
			h.quarantine(d.ID, err.Error())
		}
		return err
	}

	for _, d := range ordered {
		if !h.dependenciesReady(d) {
			h.quarantine(d.ID, "dependency not ready")
			continue
		}
		if err := h.loadOne(ctx, d); err != nil {
			log.Warn(fmt.Sprintf("plugin %s failed to load: %v", d.ID, err))
		}
	}
	return nil
}

func (h *Host) registerDiscovered(d Descriptor) {
	h.mu.Lock()
	h.records[d.ID] = &record{descriptor: d, state: StateDiscovered}
	h.mu.Unlock()
	h.emit(d.ID, EventDiscovered, "")
}

func (h *Host) dependenciesReady(d Descriptor) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, dep := range d.Dependencies {
		rec, ok := h.records[dep]
		if !ok || rec.state != StateRunning {
			return false
		}
	}
	return true
}

func (h *Host) loadOne(ctx context.Context, d Descriptor) error {
	h.mu.RLock()
	factory, ok := h.factories[d.factory]
	h.mu.RUnlock()
	if !ok {
		h.quarantine(d.ID, ErrUnknownFactory.Error())
		return ErrUnknownFactory
	}

	p := factory()
	ns := newNamespace()

	h.mu.RLock()
	rec := h.records[d.ID]
	h.mu.RUnlock()

	h.setState(d.ID, StateHandshaking)
	timer := metrics.NewTimer()
	result, err := p.Handshake(ctx, HandshakeRequest{ProtocolVersion: 1, RootPath: d.ID, Mode: "normal", Namespace: ns})
	timer.ObserveDuration(metrics.PluginHandshakeDuration)
	if err != nil {
		h.quarantine(d.ID, err.Error())
		return fmt.Errorf("plugin %s: handshake: %w", d.ID, err)
	}

	h.mu.Lock()
	rec.plugin = p
	rec.namespace = ns
	rec.state = StateReady
	rec.descriptor.Capabilities = result.Capabilities
	h.mu.Unlock()
	h.emit(d.ID, EventLoaded, "")

	routes := p.Routes()
	if err := h.registerRoutes(d.ID, routes); err != nil {
		h.quarantine(d.ID, err.Error())
		return fmt.Errorf("plugin %s: registering routes: %w", d.ID, err)
	}

	if verifier, ok := p.(Verifier); ok {
		if err := verifier.Verify(ctx); err != nil {
			h.registry.UnregisterAll(d.ID)
			h.quarantine(d.ID, err.Error())
			return fmt.Errorf("plugin %s: verify: %w", d.ID, err)
		}
	}

	pluginCtx, cancel := context.WithCancel(context.Background())
	if err := p.Start(pluginCtx); err != nil {
		cancel()
		h.registry.UnregisterAll(d.ID)
		h.quarantine(d.ID, err.Error())
		return fmt.Errorf("plugin %s: start: %w", d.ID, err)
	}

	h.mu.Lock()
	rec.cancel = cancel
	rec.state = StateRunning
	h.mu.Unlock()
	h.emit(d.ID, EventStarted, "")
	return nil
}

// registerRoutes publishes every route a plugin declares, or none: it
// validates there are no intra-plugin duplicate (typeName, name) pairs
// before registering any of them (spec §4.2's atomic capability
// registration).
func (h *Host) registerRoutes(ownerID string, routes []RouteSpec) error {
	seen := make(map[bus.RouteKey]bool, len(routes))
	for _, r := range routes {
		key := bus.RouteKey{TypeID: bus.TypeID(r.TypeName), Name: r.Name}
		if seen[key] {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateRoute, r.TypeName, r.Name)
		}
		seen[key] = true
	}

	h.mu.RLock()
	rec := h.records[ownerID]
	h.mu.RUnlock()

	for _, r := range routes {
		handler := h.wrapHandler(rec, r.Handler)
		opts := append(append([]bus.RouteOption(nil), r.Opts...), bus.Owner(ownerID))
		h.registry.Register(r.TypeName, r.Name, r.Priority, handler, opts...)
	}
	return nil
}

// wrapHandler fails fast with a PluginStopping transient failure once
// rec's drain deadline has elapsed, and otherwise tracks the handler
// call in rec.inFlight so Unload can wait for in-flight dispatches to
// finish draining (spec §4.2).
func (h *Host) wrapHandler(rec *record, handler bus.HandlerFunc) bus.HandlerFunc {
	return func(ctx context.Context, msg bus.Envelope) (message.Response, error) {
		if deadline := rec.stopDeadline.Load(); deadline != nil && !h.clock.NowUTC().Before(*deadline) {
			return message.Fail(message.Failure{
				Category:  message.CategoryTransient,
				ErrorCode: "PluginStopping",
				Title:     "plugin is stopping",
			}), nil
		}
		rec.inFlight.Add(1)
		defer rec.inFlight.Done()
		return handler(ctx, msg)
	}
}

func (h *Host) setState(id string, state State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rec, ok := h.records[id]; ok {
		rec.state = state
	}
}

func (h *Host) quarantine(id string, reason string) {
	h.mu.Lock()
	if rec, ok := h.records[id]; ok {
		rec.state = StateQuarantined
	}
	h.mu.Unlock()
	h.emit(id, EventFailed, reason)
}

// Unload stops a running plugin: it waits up to the configured drain
// deadline for in-flight dispatches to finish, calls the plugin's Stop,
// removes its routes, and releases its namespace explicitly rather than
// relying on garbage collection (spec §4.2).
func (h *Host) Unload(ctx context.Context, id string) error {
	h.mu.Lock()
	rec, ok := h.records[id]
	if !ok {
		h.mu.Unlock()
		return ErrNotFound
	}
	if rec.state == StateStopped || rec.state == StateUnloaded || rec.state == StateQuarantined {
		h.mu.Unlock()
		return nil
	}
	rec.state = StateStopping
	h.mu.Unlock()

	deadline := h.clock.NowUTC().Add(h.drainTimeout)
	rec.stopDeadline.Store(&deadline)

	drained := make(chan struct{})
	go func() {
		rec.inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-h.clock.After(h.drainTimeout):
	}

	stopCtx, cancel := context.WithTimeout(ctx, h.drainTimeout)
	defer cancel()
	stopErr := rec.plugin.Stop(stopCtx)

	if rec.cancel != nil {
		rec.cancel()
	}
	h.registry.UnregisterAll(id)

	h.mu.Lock()
	rec.namespace = nil
	rec.plugin = nil
	rec.state = StateUnloaded
	h.mu.Unlock()

	h.emit(id, EventStopped, "")
	return stopErr
}
