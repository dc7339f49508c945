package bus

import "errors"

// ErrBackpressureExceeded is returned by Dispatch when a worker queue is
// full and stays full past the configured enqueue deadline (spec §4.3).
var ErrBackpressureExceeded = errors.New("bus: backpressure exceeded")

// ErrRouteNotFound is returned when no handler is registered for the
// requested (typeName, name) pair.
var ErrRouteNotFound = errors.New("bus: no route registered")
