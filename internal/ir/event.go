package ir

import "fmt"

// EventKind identifies a stream lifecycle event reported to the ledger.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventWithdrawn EventKind = "withdrawn"
	EventRefueled  EventKind = "refueled"
	EventCompleted EventKind = "completed"
	EventCancelled EventKind = "cancelled"
)

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventCreated, EventWithdrawn, EventRefueled, EventCompleted, EventCancelled:
		return true
	}
	return false
}

// OnceClass returns the append-once idempotency class of the kind, or ""
// for kinds that may repeat (withdrawals, refuels). Completion and
// cancellation share the "terminal" class so at most one of them is ever
// recorded per stream.
func (k EventKind) OnceClass() string {
	switch k {
	case EventCreated:
		return "created"
	case EventCompleted, EventCancelled:
		return "terminal"
	}
	return ""
}

// Event is a lifecycle event emitted by the Stream Engine.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind           EventKind `json:"kind"`
	StreamID       StreamID  `json:"stream_id"`
	Sender         Principal `json:"sender,omitempty"`
	Recipient      Principal `json:"recipient,omitempty"`
	Amount         uint64    `json:"amount,omitempty"` // total at creation, withdrawal, refuel extra or refund
	StartBlock     uint64    `json:"start_block,omitempty"`
	EndBlock       uint64    `json:"end_block,omitempty"`
	CreatedAtBlock uint64    `json:"created_at_block,omitempty"`
}

// Key returns the idempotency key for append-once kinds.
// ok is false for repeatable kinds.
func (e Event) Key() (key EventKey, ok bool) {
	class := e.Kind.OnceClass()
	if class == "" {
		return EventKey{}, false
	}
	return EventKey{StreamID: e.StreamID, Class: class}, true
}

// EventKey is the (stream id, event class) idempotency key.
type EventKey struct {
	StreamID StreamID
	Class    string
}

func (k EventKey) String() string {
	return fmt.Sprintf("%d/%s", k.StreamID, k.Class)
}

// CreatedEvent builds a creation event.
func CreatedEvent(id StreamID, sender, recipient Principal, total, start, end, createdAt uint64) Event {
	return Event{
		Kind:           EventCreated,
		StreamID:       id,
		Sender:         sender,
		Recipient:      recipient,
		Amount:         total,
		StartBlock:     start,
		EndBlock:       end,
		CreatedAtBlock: createdAt,
	}
}

// WithdrawnEvent builds a withdrawal event.
func WithdrawnEvent(id StreamID, amount uint64) Event {
	return Event{Kind: EventWithdrawn, StreamID: id, Amount: amount}
}

// RefueledEvent builds a refuel event carrying the extra amount.
func RefueledEvent(id StreamID, extra uint64) Event {
	return Event{Kind: EventRefueled, StreamID: id, Amount: extra}
}

// CompletedEvent builds a completion event.
func CompletedEvent(id StreamID) Event {
	return Event{Kind: EventCompleted, StreamID: id}
}

// CancelledEvent builds a cancellation event carrying the refund.
func CancelledEvent(id StreamID, refund uint64) Event {
	return Event{Kind: EventCancelled, StreamID: id, Amount: refund}
}
