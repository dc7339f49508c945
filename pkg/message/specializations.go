package message

import "time"

// Command is a mutating intent, optionally idempotent and deadlined.
type Command struct {
	Base
	IdempotencyKey *string
	Deadline       *time.Time
}

// NewCommand constructs a Command from the given sender.
func NewCommand(sender string) *Command {
	return &Command{Base: NewBase(sender)}
}

// Clone returns a fresh, unlocked Command with a new identity.
func (c *Command) Clone() *Command {
	return &Command{
		Base:           cloneBase(c.Base),
		IdempotencyKey: c.IdempotencyKey,
		Deadline:       c.Deadline,
	}
}

// IdempotencyKeyValue reports the command's idempotency key, if any. The
// bus uses this to satisfy an optional bus.idempotent interface check.
func (c *Command) IdempotencyKeyValue() (string, bool) {
	if c.IdempotencyKey == nil {
		return "", false
	}
	return *c.IdempotencyKey, true
}

// Query is a non-mutating read whose response carries type R. Go has no
// runtime-reified generics, so R only constrains the call site (the
// handler registered for this query's type/name); the bus itself carries
// payload bytes opaquely per spec §9.
type Query[R any] struct {
	Base
}

// NewQuery constructs a Query from the given sender.
func NewQuery[R any](sender string) *Query[R] {
	return &Query[R]{Base: NewBase(sender)}
}

// Clone returns a fresh, unlocked Query with a new identity.
func (q *Query[R]) Clone() *Query[R] {
	return &Query[R]{Base: cloneBase(q.Base)}
}

// Event is a past fact, optionally propagated cluster-wide.
type Event struct {
	Base
	ClusterPropagate bool
}

// NewEvent constructs an Event from the given sender.
func NewEvent(sender string) *Event {
	return &Event{Base: NewBase(sender)}
}

// Clone returns a fresh, unlocked Event with a new identity.
func (e *Event) Clone() *Event {
	return &Event{
		Base:             cloneBase(e.Base),
		ClusterPropagate: e.ClusterPropagate,
	}
}
