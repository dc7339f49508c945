package plugin

import "errors"

// ErrUnresolvedDependency is returned by LoadAll when a plugin declares a
// dependency the host has no descriptor for, or when the dependency
// graph contains a cycle (spec §4.2).
var ErrUnresolvedDependency = errors.New("plugin: unresolved dependency")

// ErrUnknownFactory is returned when a manifest names a factory key
// RegisterFactory was never called with.
var ErrUnknownFactory = errors.New("plugin: no factory registered for this manifest")

// ErrNotFound is returned by operations addressing a plugin id the host
// has no record of.
var ErrNotFound = errors.New("plugin: no such plugin")

// ErrDuplicateRoute is returned when a plugin's own Routes() reports the
// same (typeName, name) pair twice; the host refuses to publish any of
// that plugin's routes rather than register a partial, ambiguous set.
var ErrDuplicateRoute = errors.New("plugin: duplicate route within plugin")
