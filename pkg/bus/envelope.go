package bus

import "github.com/cuemby/databay/pkg/trace"

// Envelope is the subset of message.Command/Query/Event the bus needs to
// route, trace, and lock a dispatch. All three specializations in
// pkg/message satisfy it through Base's promoted methods.
type Envelope interface {
	EnvelopeID() string
	SenderID() string
	PartitionKeyOf() string
	TraceOf() trace.Context
	Recorder() *trace.Recorder
	IncrementRetryCount() int
	IsLocked() bool
	Lock()
}

// validator is implemented by messages that need structural or business
// validation before authorization runs. Not every message needs one.
type validator interface {
	Validate() error
}

// idempotent is implemented by messages carrying an idempotency key
// (message.Command does, when one was set).
type idempotent interface {
	IdempotencyKeyValue() (string, bool)
}
