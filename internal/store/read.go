package store

import (
	"context"
	"fmt"

	"github.com/roach88/streamledger/internal/ir"
)

// StoredEvent is a ledger event as persisted in the event log.
type StoredEvent struct {
	ID          int64    `json:"id"`
	CommandSeq  int64    `json:"command_seq"`
	Event       ir.Event `json:"event"`
	PayloadHash string   `json:"payload_hash"`
}

// ReadCommands returns the whole journal ordered by seq ASC.
// Returns an empty slice (not nil) for an empty journal.
func (s *Store) ReadCommands(ctx context.Context) ([]ir.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, kind, caller, height, args, session
		FROM commands
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read commands: %w", err)
	}
	defer rows.Close()

	cmds := []ir.Command{}
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("read commands: %w", err)
		}
		cmds = append(cmds, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read commands: %w", err)
	}
	return cmds, nil
}

// ReadCommand retrieves a single command by seq.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadCommand(ctx context.Context, seq int64) (ir.Command, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, id, kind, caller, height, args, session
		FROM commands
		WHERE seq = ?
	`, seq)
	cmd, err := scanCommand(row)
	if err != nil {
		return ir.Command{}, fmt.Errorf("read command %d: %w", seq, err)
	}
	return cmd, nil
}

// CommandCount returns the number of journaled commands.
func (s *Store) CommandCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commands`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count commands: %w", err)
	}
	return n, nil
}

// ReadEvents returns the whole event log in insertion order.
func (s *Store) ReadEvents(ctx context.Context) ([]StoredEvent, error) {
	return s.queryEvents(ctx, `
		SELECT id, command_seq, payload, payload_hash
		FROM ledger_events
		ORDER BY id ASC
	`)
}

// ReadStreamEvents returns the events logged for one stream in insertion
// order.
func (s *Store) ReadStreamEvents(ctx context.Context, id ir.StreamID) ([]StoredEvent, error) {
	return s.queryEvents(ctx, `
		SELECT id, command_seq, payload, payload_hash
		FROM ledger_events
		WHERE stream_id = ?
		ORDER BY id ASC
	`, int64(id))
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	events := []StoredEvent{}
	for rows.Next() {
		var (
			ev      StoredEvent
			payload string
		)
		if err := rows.Scan(&ev.ID, &ev.CommandSeq, &payload, &ev.PayloadHash); err != nil {
			return nil, fmt.Errorf("read events: scan: %w", err)
		}
		if ev.Event, err = unmarshalEvent(payload); err != nil {
			return nil, fmt.Errorf("read events: row %d: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (ir.Command, error) {
	var (
		cmd      ir.Command
		kind     string
		caller   string
		height   int64
		argsJSON string
	)
	if err := row.Scan(&cmd.Seq, &cmd.ID, &kind, &caller, &height, &argsJSON, &cmd.Session); err != nil {
		return ir.Command{}, fmt.Errorf("scan command: %w", err)
	}
	args, err := unmarshalArgs(argsJSON)
	if err != nil {
		return ir.Command{}, fmt.Errorf("scan command %d: %w", cmd.Seq, err)
	}
	cmd.Kind = ir.CommandKind(kind)
	cmd.Caller = ir.Principal(caller)
	cmd.Height = uint64(height)
	cmd.Args = args
	return cmd, nil
}
