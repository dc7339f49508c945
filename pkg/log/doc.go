// Package log wraps zerolog with the global-logger-plus-child-logger
// pattern used everywhere else in this codebase: Init configures the
// process-wide Logger once, and WithComponent/WithPluginID/WithRaftTerm/
// WithCorrelationID derive child loggers carrying one extra field so
// call sites don't repeat themselves.
package log
