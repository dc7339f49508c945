// Package bus routes a typed Command, Query, or Event to the handler
// registered for its (type, name) route key, running a fixed middleware
// chain around the handler: Exception, Trace, Validation, AccessControl,
// Deprecation, Audit, Handler, ReverseAudit, Response. Dispatch is
// partitioned by the message's partition key so per-sender ordering is
// preserved across a bounded pool of worker goroutines, with an
// in-process idempotency cache and category-aware retry.
package bus
