package plugin

import "sync"

// Namespace is a private key/value store the host hands to exactly one
// plugin at handshake time, so two plugins can never share mutable
// state by accident (spec §4.2's "isolated context").
type Namespace struct {
	data sync.Map
}

func newNamespace() *Namespace {
	return &Namespace{}
}

// Get retrieves a value the plugin previously stored under key.
func (n *Namespace) Get(key string) (any, bool) {
	return n.data.Load(key)
}

// Set stores a value under key, visible only within this namespace.
func (n *Namespace) Set(key string, value any) {
	n.data.Store(key, value)
}

// Delete removes key from the namespace, if present.
func (n *Namespace) Delete(key string) {
	n.data.Delete(key)
}
