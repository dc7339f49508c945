// Package storagepool presents one logical content-addressed blob store
// over heterogeneous backends grouped into tiers (Hot, Warm, Cold). It
// enforces deduplication by content hash, supports RAID-1 mirrored
// drivers with background self-heal, and honours WORM retention locks
// (spec §4.5).
package storagepool
