package plugin

import (
	"context"

	"github.com/cuemby/databay/pkg/bus"
)

// Category groups plugins for discovery and operator-facing listing.
type Category string

// State is the plugin lifecycle state machine (spec §3). Transitions are
// monotone except Quarantined, which is absorbing.
type State string

const (
	StateDiscovered  State = "Discovered"
	StateHandshaking State = "Handshaking"
	StateReady       State = "Ready"
	StateRunning     State = "Running"
	StateStopping    State = "Stopping"
	StateStopped     State = "Stopped"
	StateUnloaded    State = "Unloaded"
	StateQuarantined State = "Quarantined"
)

// Descriptor is the plugin's self-reported identity plus the
// dependency edges the host's topological sort orders on.
type Descriptor struct {
	ID           string
	Name         string
	Version      string
	Category     Category
	Dependencies []string
	Capabilities []string
	SemanticTags []string
	Health       string

	// factory names the constructor registered with the host via
	// RegisterFactory; it is populated by manifest discovery and never
	// part of the plugin's own self-report.
	factory string
}

// HandshakeRequest is what the host hands a plugin when loading it.
type HandshakeRequest struct {
	ProtocolVersion int
	RootPath        string
	Mode            string
	Namespace       *Namespace
}

// HandshakeResult is a plugin's successful handshake response. A
// handshake that cannot succeed returns a non-nil error instead of a
// zero-value HandshakeResult (Go has no sum-type Failure{reason}; the
// error's message carries the reason).
type HandshakeResult struct {
	ID           string
	Name         string
	Version      string
	Category     Category
	Capabilities []string
	Dependencies []string
}

// RouteSpec is one handler a plugin wants registered on the bus.
// Plugins report their routes instead of registering them directly so
// the host can publish all of a plugin's routes atomically (spec §4.2:
// "either all of a plugin's routes publish or none do").
type RouteSpec struct {
	TypeName string
	Name     string
	Priority int
	Handler  bus.HandlerFunc
	Opts     []bus.RouteOption
}

// Plugin is the contract every loadable plugin implements (spec §6's
// plugin contract).
type Plugin interface {
	Handshake(ctx context.Context, req HandshakeRequest) (HandshakeResult, error)
	Routes() []RouteSpec
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Verifier is an optional post-register health check the host runs
// between capability registration and Start; a failing Verify rolls the
// plugin's registrations back and quarantines it (spec §4.2).
type Verifier interface {
	Verify(ctx context.Context) error
}

// MessageObserver is an optional capability for async notification of
// bus traffic outside a plugin's own registered routes. Host does not
// call OnMessage; nothing in this package delivers messages to it.
type MessageObserver interface {
	OnMessage(ctx context.Context, msg bus.Envelope)
}

// Factory constructs a fresh Plugin instance. The host calls it once
// each time it loads a plugin, so every load starts from a clean
// instance.
type Factory func() Plugin
