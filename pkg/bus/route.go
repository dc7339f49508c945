package bus

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/cuemby/databay/pkg/acl"
	"github.com/cuemby/databay/pkg/message"
)

// HandlerFunc handles one envelope and produces the response the caller
// (or a retry) ultimately sees. Handlers must observe ctx at suspension
// points so a cancelled dispatch can unwind promptly (spec §4.3).
type HandlerFunc func(ctx context.Context, msg Envelope) (message.Response, error)

// RouteKey identifies a registered handler: messageTypeId plus an
// optional logical name (spec §4.3).
type RouteKey struct {
	TypeID uint64
	Name   string
}

// TypeID hashes a message type name into the uint64 the route table
// keys on (spec's fnv.New64a(messageTypeName)).
func TypeID(typeName string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(typeName))
	return h.Sum64()
}

type routeEntry struct {
	key                RouteKey
	priority           int
	registeredAt       int
	handler            HandlerFunc
	deprecated         bool
	resourcePathPrefix string
	requiredPermission acl.Permission
	owner              string
}

// RouteOption customizes a Register call.
type RouteOption func(*routeEntry)

// Deprecated marks the route so the Deprecation middleware step records
// a warning on every dispatch against it.
func Deprecated() RouteOption {
	return func(e *routeEntry) { e.deprecated = true }
}

// RequireAccess gates the route behind an ACL check: the subject named
// on DispatchOptions must hold requiredPermission on resourcePathPrefix
// (or an ancestor of it).
func RequireAccess(resourcePathPrefix string, requiredPermission acl.Permission) RouteOption {
	return func(e *routeEntry) {
		e.resourcePathPrefix = resourcePathPrefix
		e.requiredPermission = requiredPermission
	}
}

// Owner tags a route with the id of the plugin that registered it, so
// UnregisterAll can remove every route a plugin owns in one call
// without the registry knowing anything about plugins itself.
func Owner(id string) RouteOption {
	return func(e *routeEntry) { e.owner = id }
}

// Registry holds the route table. Only one handler exists per
// (typeId, name); re-registering the same key only replaces the
// incumbent when the new priority is strictly higher. Equal-priority
// registrations keep whichever was registered first (spec's
// "priority descending, then registration order ascending" tie-break).
type Registry struct {
	mu      sync.RWMutex
	entries map[RouteKey]*routeEntry
	seq     int
}

// NewRegistry constructs an empty route table.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[RouteKey]*routeEntry)}
}

// Register adds or supersedes the handler for (typeName, name).
func (r *Registry) Register(typeName, name string, priority int, handler HandlerFunc, opts ...RouteOption) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := RouteKey{TypeID: TypeID(typeName), Name: name}
	entry := &routeEntry{key: key, priority: priority, handler: handler, registeredAt: r.seq}
	r.seq++
	for _, opt := range opts {
		opt(entry)
	}

	if existing, ok := r.entries[key]; !ok || priority > existing.priority {
		r.entries[key] = entry
	}
}

func (r *Registry) resolve(typeName, name string) (*routeEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[RouteKey{TypeID: TypeID(typeName), Name: name}]
	return entry, ok
}

// Has reports whether a handler is currently registered for
// (typeName, name), without exposing the handler itself.
func (r *Registry) Has(typeName, name string) bool {
	_, ok := r.resolve(typeName, name)
	return ok
}

// UnregisterAll removes every route owned by owner (spec §6's
// unregister_all(ownerId), used by the plugin host on unload and on
// rollback after a failed Verify).
func (r *Registry) UnregisterAll(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.entries {
		if entry.owner == owner {
			delete(r.entries, key)
		}
	}
}
