// Package store provides SQLite-backed durable storage for the command
// journal and the ledger event log.
//
// The store holds two append-only tables:
//   - commands: every successful mutating operation, in application order
//   - ledger_events: every event the ledger accepted, tagged with the
//     command that produced it
//
// # Write-ahead journaling
//
// A mutation opens a Tx, appends its command, runs the in-memory operation,
// appends the resulting ledger events and commits. If the operation fails
// the Tx is rolled back, so the journal only ever holds commands that
// succeeded.
//
// # Idempotency
//
//   - UNIQUE(stream_id, once_class) on ledger_events
//   - A second creation or terminal event for a stream is rejected with
//     ALREADY_RECORDED
//
// # Deterministic ordering
//
//   - Commands are read ORDER BY seq ASC
//   - Events are read ORDER BY id ASC, which is insertion order
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Heights and stream ids are uint64 in memory and stored bit-for-bit in
// SQLite's signed INTEGER column.
package store
