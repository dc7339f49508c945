// Package message defines the core data model: Message and its three
// specializations (Command, Query, Event), plus the structured Response
// every dispatch returns. Messages are immutable after Lock; Clone
// always yields a fresh, unlocked copy with a new identity.
package message

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/databay/pkg/trace"
)

// TenantScope distinguishes cluster-wide messages from ones scoped to a
// single tenant.
type TenantScope string

const (
	ScopeGlobal TenantScope = "global"
	ScopeTenant TenantScope = "tenant"
)

// ErrReadOnlyViolation is returned by any mutator called on a locked
// Message (spec invariant I2).
var ErrReadOnlyViolation = errors.New("message: read-only violation, message is locked")

// AuditEntry records one field-level change made to a message for
// forensic replay.
type AuditEntry struct {
	Field    string
	OldValue string
	NewValue string
	Reason   string
}

// Forensics captures the originating client for security review.
type Forensics struct {
	IP        string
	UserAgent string
}

// Base holds every field common to Command, Query, and Event. It is
// embedded, never used standalone.
type Base struct {
	ID            string
	CreatedAt     time.Time
	ExpiresAt     *time.Time
	Sender        string
	CorrelationID string
	CausationID   string
	Trace         trace.Context
	RetryCount    int
	Priority      *int
	PartitionKey  string
	TenantScope   TenantScope
	DryRun        bool
	SchemaVersion int
	Culture       string
	Metadata      map[string]string
	Attachments   map[string][]byte
	Audit         []AuditEntry
	Forensics     Forensics

	locked   bool
	recorder *trace.Recorder
}

// NewBase constructs a Base with a fresh id, creation timestamp, root
// trace context, and default partition key equal to the sender (spec
// §5: "partition key defaults to sender id").
func NewBase(sender string) Base {
	return Base{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Sender:        sender,
		PartitionKey:  sender,
		Trace:         trace.NewContext(),
		TenantScope:   ScopeGlobal,
		SchemaVersion: 1,
		Metadata:      make(map[string]string),
		Attachments:   make(map[string][]byte),
		recorder:      trace.NewRecorder(64),
	}
}

// EnvelopeID returns the message's unique id, satisfying bus.Envelope.
func (b *Base) EnvelopeID() string { return b.ID }

// SenderID returns the originating sender, satisfying bus.Envelope.
func (b *Base) SenderID() string { return b.Sender }

// PartitionKeyOf returns the dispatch partition key, satisfying
// bus.Envelope.
func (b *Base) PartitionKeyOf() string { return b.PartitionKey }

// TraceOf returns the message's trace context, satisfying bus.Envelope.
func (b *Base) TraceOf() trace.Context { return b.Trace }

// IncrementRetryCount bumps the message's retry counter, used by the bus
// when a dispatch transitions from Retrying back to Queued.
func (b *Base) IncrementRetryCount() int {
	b.RetryCount++
	return b.RetryCount
}

// IsLocked reports whether the message has been locked against mutation.
func (b *Base) IsLocked() bool { return b.locked }

// Lock freezes the message; any subsequent mutator fails with
// ErrReadOnlyViolation.
func (b *Base) Lock() { b.locked = true }

// Recorder returns the message's flight recorder, creating one if it is
// nil (a Base not built by NewBase or Clone, such as a decoded one).
func (b *Base) Recorder() *trace.Recorder {
	if b.recorder == nil {
		b.recorder = trace.NewRecorder(64)
	}
	return b.recorder
}

// SetMetadata records a redacted audit entry and sets a metadata field.
// Fails with ErrReadOnlyViolation once locked.
func (b *Base) SetMetadata(key, value, reason string) error {
	if b.locked {
		return ErrReadOnlyViolation
	}
	old := b.Metadata[key]
	b.Metadata[key] = value
	oldAudit := trace.RedactFields(map[string]string{key: old})[key]
	newAudit := trace.RedactFields(map[string]string{key: value})[key]
	b.Audit = append(b.Audit, AuditEntry{Field: "metadata." + key, OldValue: oldAudit, NewValue: newAudit, Reason: reason})
	return nil
}

// cloneBase returns an unlocked copy of b with a fresh id and timestamp
// (spec invariant I1/I2): clones are always unlocked and always unique.
func cloneBase(b Base) Base {
	nb := b
	nb.ID = uuid.NewString()
	nb.CreatedAt = time.Now().UTC()
	nb.locked = false
	nb.RetryCount = 0
	nb.Metadata = cloneStringMap(b.Metadata)
	nb.Attachments = cloneByteMap(b.Attachments)
	nb.Audit = append([]AuditEntry(nil), b.Audit...)
	nb.Trace = b.Trace.ChildSpan()
	nb.recorder = trace.NewRecorder(64)
	return nb
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneByteMap(m map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
