// Package durable is consumed by every other engine in the core — the
// Raft metadata store, the ACL registry, the WORM registry, and the
// dedup table are all a durable.State[T] under a different name. There
// is deliberately only one implementation of the WAL+snapshot primitive;
// callers differentiate by value type and file name, not by a different
// storage engine.
package durable
