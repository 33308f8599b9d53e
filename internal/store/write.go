package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/streamledger/internal/ir"
)

// Tx is a journal write transaction. Exactly one Tx may be open at a time
// (the pool holds a single connection).
type Tx struct {
	tx *sql.Tx
}

// Begin opens a write transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit makes the transaction's writes durable.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Rollback discards the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback tx: %w", err)
	}
	return nil
}

// AppendCommand assigns the next sequence number and the content-addressed
// id to cmd and inserts it. The returned command carries both.
func (t *Tx) AppendCommand(ctx context.Context, cmd ir.Command) (ir.Command, error) {
	if !cmd.Kind.Valid() {
		return ir.Command{}, fmt.Errorf("append command: unknown kind %q", cmd.Kind)
	}

	var last sql.NullInt64
	if err := t.tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM commands`).Scan(&last); err != nil {
		return ir.Command{}, fmt.Errorf("append command: read seq: %w", err)
	}
	cmd.Seq = last.Int64 + 1
	cmd.Caller = cmd.Caller.Normalize()
	if cmd.Args == nil {
		cmd.Args = ir.Args{}
	}

	id, err := ir.CommandID(cmd.Kind, cmd.Caller, cmd.Height, cmd.Args, cmd.Seq)
	if err != nil {
		return ir.Command{}, fmt.Errorf("append command: %w", err)
	}
	cmd.ID = id

	argsJSON, err := marshalArgs(cmd.Args)
	if err != nil {
		return ir.Command{}, fmt.Errorf("append command: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO commands
		(seq, id, kind, caller, height, args, session, journal_version, engine_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cmd.Seq,
		cmd.ID,
		string(cmd.Kind),
		string(cmd.Caller),
		int64(cmd.Height),
		argsJSON,
		cmd.Session,
		ir.JournalVersion,
		ir.EngineVersion,
	)
	if err != nil {
		return ir.Command{}, fmt.Errorf("append command: %w", err)
	}
	return cmd, nil
}

// AppendEvents mirrors ledger events produced by command seq.
//
// Uses ON CONFLICT DO NOTHING on the (stream_id, once_class) key; a
// conflicting creation or terminal event is reported as ALREADY_RECORDED
// rather than silently dropped, so the caller can roll back.
func (t *Tx) AppendEvents(ctx context.Context, seq int64, events ...ir.Event) error {
	for _, e := range events {
		payload, err := marshalEvent(e)
		if err != nil {
			return fmt.Errorf("append events: %w", err)
		}
		hash, err := ir.EventHash(e)
		if err != nil {
			return fmt.Errorf("append events: %w", err)
		}

		var onceClass sql.NullString
		if key, ok := e.Key(); ok {
			onceClass = sql.NullString{String: key.Class, Valid: true}
		}

		result, err := t.tx.ExecContext(ctx, `
			INSERT INTO ledger_events
			(command_seq, stream_id, kind, once_class, payload, payload_hash)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(stream_id, once_class) DO NOTHING
		`,
			seq,
			int64(e.StreamID),
			string(e.Kind),
			onceClass,
			payload,
			hash,
		)
		if err != nil {
			return fmt.Errorf("append events: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("append events: rows affected: %w", err)
		}
		if n == 0 {
			return ir.StreamError(ir.ErrCodeAlreadyRecorded, e.StreamID, "%s event already logged", onceClass.String)
		}
	}
	return nil
}
