package store

import (
	"fmt"

	"github.com/roach88/streamledger/internal/ir"
)

// marshalArgs converts Args to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalArgs(args ir.Args) (string, error) {
	if args == nil {
		args = ir.Args{}
	}
	data, err := ir.MarshalCanonical(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(data), nil
}

// unmarshalArgs parses canonical JSON TEXT to Args.
// Numbers stay json.Number so uint64 values above 2^53 survive.
func unmarshalArgs(data string) (ir.Args, error) {
	if data == "" || data == "{}" {
		return ir.Args{}, nil
	}
	args, err := ir.UnmarshalArgs([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	return args, nil
}

// marshalEvent renders an event as canonical JSON TEXT.
func marshalEvent(e ir.Event) (string, error) {
	data, err := ir.MarshalCanonical(e.Args())
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return string(data), nil
}

// unmarshalEvent rebuilds an event from its canonical payload.
func unmarshalEvent(data string) (ir.Event, error) {
	args, err := unmarshalArgs(data)
	if err != nil {
		return ir.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}

	kind, ok := args["kind"].(string)
	if !ok || !ir.EventKind(kind).Valid() {
		return ir.Event{}, fmt.Errorf("unmarshal event: invalid kind %v", args["kind"])
	}
	e := ir.Event{Kind: ir.EventKind(kind)}

	uints := []struct {
		key string
		dst *uint64
	}{
		{"amount", &e.Amount},
		{"start_block", &e.StartBlock},
		{"end_block", &e.EndBlock},
		{"created_at_block", &e.CreatedAtBlock},
	}
	for _, u := range uints {
		v, err := args.Uint(u.key)
		if err != nil {
			return ir.Event{}, fmt.Errorf("unmarshal event: %w", err)
		}
		*u.dst = v
	}
	id, err := args.Uint("stream_id")
	if err != nil {
		return ir.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	e.StreamID = ir.StreamID(id)

	if e.Sender, err = args.Principal("sender"); err != nil {
		return ir.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if e.Recipient, err = args.Principal("recipient"); err != nil {
		return ir.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return e, nil
}
