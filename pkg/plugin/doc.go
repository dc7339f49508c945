// Package plugin implements the host side of the plugin contract:
// manifest discovery, dependency-ordered loading via a handshake
// protocol, atomic capability registration against a bus.Registry, and
// a bounded-drain unload path. Plugins run in-process; isolation is a
// private Namespace handed to each plugin at handshake time rather than
// OS-level process or module separation.
package plugin
