// Package metrics defines the process-wide Prometheus gauge, counter,
// and histogram catalogue plus the /health, /ready, and /live HTTP
// handlers. Engines record their own counters and histograms inline at
// the point of the event (bus dispatch outcome, ACL decision, plugin
// handshake);
// Collector exists only for the point-in-time state a poll can observe
// more cheaply than an update on every change (queue depth, leader
// status, tier occupancy).
package metrics
