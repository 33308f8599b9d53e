// Package engine implements the Stream Engine.
//
// The engine owns individual stream records: it computes vested and
// withdrawable balances over block height, applies withdrawals, refuels and
// cancellations, and reports every lifecycle event to an EventSink (in
// production, a capability handle on the Analytics Ledger).
//
// ARCHITECTURE:
//
// Staged Mutation:
// Every mutating operation works on a copy of the stream. The complete
// batch of events the operation produces is handed to the sink in one
// Apply call; the copy is committed only if the sink accepted the batch.
// A rejected batch leaves both the engine and the ledger untouched.
//
// Height Clock:
// Vesting and createdAtBlock read the Clock. Heights never go backwards;
// wall-clock time is never consulted.
//
// INVARIANTS:
//   - WithdrawnAmount <= TotalAmount for every stream, before and after
//     every operation
//   - Status transitions are one-way (Active -> Completed | Cancelled)
//   - Stream ids are assigned 0, 1, 2, ... and never reused
package engine
