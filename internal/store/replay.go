package store

import (
	"context"
	"fmt"

	"github.com/roach88/streamledger/internal/ir"
)

// StreamHistory is everything the event log knows about one stream.
type StreamHistory struct {
	StreamID  ir.StreamID   `json:"stream_id"`
	Events    []StoredEvent `json:"events"`
	Commands  []ir.Command  `json:"commands"`
	Created   bool          `json:"created"`
	Terminal  ir.EventKind  `json:"terminal,omitempty"` // completed or cancelled
	Withdrawn uint64        `json:"withdrawn"`
	Refueled  uint64        `json:"refueled"`
}

// GetStreamHistory collects a stream's logged events and the commands that
// produced them, in order.
func (s *Store) GetStreamHistory(ctx context.Context, id ir.StreamID) (StreamHistory, error) {
	h := StreamHistory{StreamID: id, Commands: []ir.Command{}}

	events, err := s.ReadStreamEvents(ctx, id)
	if err != nil {
		return h, fmt.Errorf("get stream history: %w", err)
	}
	h.Events = events

	seen := make(map[int64]bool)
	for _, ev := range events {
		switch ev.Event.Kind {
		case ir.EventCreated:
			h.Created = true
		case ir.EventWithdrawn:
			h.Withdrawn += ev.Event.Amount
		case ir.EventRefueled:
			h.Refueled += ev.Event.Amount
		case ir.EventCompleted, ir.EventCancelled:
			h.Terminal = ev.Event.Kind
		}

		if seen[ev.CommandSeq] {
			continue
		}
		seen[ev.CommandSeq] = true
		cmd, err := s.ReadCommand(ctx, ev.CommandSeq)
		if err != nil {
			return h, fmt.Errorf("get stream history: %w", err)
		}
		h.Commands = append(h.Commands, cmd)
	}
	return h, nil
}

// Corruption describes one integrity failure found by Verify.
type Corruption struct {
	Seq    int64  `json:"seq,omitempty"`
	Event  int64  `json:"event,omitempty"`
	Reason string `json:"reason"`
}

// Verify recomputes every command id and event hash and reports the rows
// whose stored identity no longer matches their content. Returns an empty
// slice (not nil) when the journal is intact.
func (s *Store) Verify(ctx context.Context) ([]Corruption, error) {
	out := []Corruption{}

	cmds, err := s.ReadCommands(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	var expect int64 = 1
	for _, cmd := range cmds {
		if cmd.Seq != expect {
			out = append(out, Corruption{Seq: cmd.Seq, Reason: fmt.Sprintf("sequence gap: expected %d", expect)})
		}
		expect = cmd.Seq + 1

		id, err := ir.CommandID(cmd.Kind, cmd.Caller, cmd.Height, cmd.Args, cmd.Seq)
		if err != nil {
			out = append(out, Corruption{Seq: cmd.Seq, Reason: err.Error()})
			continue
		}
		if id != cmd.ID {
			out = append(out, Corruption{Seq: cmd.Seq, Reason: "command id does not match content"})
		}
	}

	events, err := s.ReadEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	for _, ev := range events {
		hash, err := ir.EventHash(ev.Event)
		if err != nil {
			out = append(out, Corruption{Event: ev.ID, Reason: err.Error()})
			continue
		}
		if hash != ev.PayloadHash {
			out = append(out, Corruption{Event: ev.ID, Reason: "payload hash does not match content"})
		}
	}
	return out, nil
}
