package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainCommand = "streamledger/command/v1"
	DomainEvent   = "streamledger/event/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CommandID computes the content-addressed id of a journaled command.
// seq is part of the identity, so two identical refuels at the same height
// remain distinct commands.
func CommandID(kind CommandKind, caller Principal, height uint64, args Args, seq int64) (string, error) {
	obj := Args{
		"kind":   string(kind),
		"caller": caller.Normalize(),
		"height": height,
		"args":   args,
		"seq":    seq,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("CommandID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainCommand, canonical), nil
}

// EventHash computes the content hash of a ledger event, used as the
// payload checksum in the event log.
func EventHash(e Event) (string, error) {
	canonical, err := MarshalCanonical(e.Args())
	if err != nil {
		return "", fmt.Errorf("EventHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// Args renders the event as a canonical argument object.
func (e Event) Args() Args {
	return Args{
		"kind":             e.Kind,
		"stream_id":        e.StreamID,
		"sender":           e.Sender.Normalize(),
		"recipient":        e.Recipient.Normalize(),
		"amount":           e.Amount,
		"start_block":      e.StartBlock,
		"end_block":        e.EndBlock,
		"created_at_block": e.CreatedAtBlock,
	}
}

// MustCommandID is like CommandID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCommandID(kind CommandKind, caller Principal, height uint64, args Args, seq int64) string {
	id, err := CommandID(kind, caller, height, args, seq)
	if err != nil {
		panic(err)
	}
	return id
}
