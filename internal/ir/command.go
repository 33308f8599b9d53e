package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// CommandKind names a mutating operation recorded in the journal.
type CommandKind string

const (
	CmdCreateStream       CommandKind = "create_stream"
	CmdWithdraw           CommandKind = "withdraw"
	CmdRefuel             CommandKind = "refuel"
	CmdCancel             CommandKind = "cancel"
	CmdRecordCompletion   CommandKind = "record_completion"
	CmdRecordCancellation CommandKind = "record_cancellation"
	CmdRateUser           CommandKind = "rate_user"
)

// Valid reports whether k is a known command kind.
func (k CommandKind) Valid() bool {
	switch k {
	case CmdCreateStream, CmdWithdraw, CmdRefuel, CmdCancel,
		CmdRecordCompletion, CmdRecordCancellation, CmdRateUser:
		return true
	}
	return false
}

// Command is one journaled mutation. Replaying the journal in Seq order at
// each command's Height rebuilds the full engine and ledger state.
//
// Session identifies the process that wrote the command. It is audit data
// only and is not part of ID.
type Command struct {
	Seq     int64       `json:"seq"`
	ID      string      `json:"id"`
	Kind    CommandKind `json:"kind"`
	Caller  Principal   `json:"caller"`
	Height  uint64      `json:"height"`
	Args    Args        `json:"args"`
	Session string      `json:"session,omitempty"`
}

// UnmarshalArgs parses canonical JSON into Args, keeping numbers as
// json.Number so uint64 values above 2^53 survive.
func UnmarshalArgs(data []byte) (Args, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Args{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var args Args
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	if args == nil {
		args = Args{}
	}
	return args, nil
}

// Uint reads an unsigned integer argument.
func (a Args) Uint(key string) (uint64, error) {
	v, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case uint64:
		return n, nil
	case StreamID:
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("argument %q is negative", key)
		}
		return uint64(n), nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("argument %q is negative", key)
		}
		return uint64(n), nil
	case json.Number:
		u, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("argument %q: %w", key, err)
		}
		return u, nil
	default:
		return 0, fmt.Errorf("argument %q has type %T, want integer", key, v)
	}
}

// Principal reads a principal argument.
func (a Args) Principal(key string) (Principal, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	switch s := v.(type) {
	case Principal:
		return s, nil
	case string:
		return Principal(s), nil
	default:
		return "", fmt.Errorf("argument %q has type %T, want string", key, v)
	}
}
