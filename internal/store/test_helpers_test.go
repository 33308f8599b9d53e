package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/streamledger/internal/ir"
)

// createTestStore creates a new on-disk store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestCommand creates a create_stream command with minimal args.
func createTestCommand(height uint64) ir.Command {
	return ir.Command{
		Kind:   ir.CmdCreateStream,
		Caller: "alice",
		Height: height,
		Args: ir.Args{
			"recipient":         ir.Principal("bob"),
			"total_amount":      uint64(1000),
			"start_block":       uint64(0),
			"end_block":         uint64(10),
			"payment_per_block": uint64(100),
		},
	}
}

// appendCommitted appends cmd and events in one committed transaction.
func appendCommitted(t *testing.T, s *Store, cmd ir.Command, events ...ir.Event) ir.Command {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer tx.Rollback()

	cmd, err = tx.AppendCommand(ctx, cmd)
	if err != nil {
		t.Fatalf("AppendCommand() failed: %v", err)
	}
	if err := tx.AppendEvents(ctx, cmd.Seq, events...); err != nil {
		t.Fatalf("AppendEvents() failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	return cmd
}
