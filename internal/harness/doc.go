// Package harness runs YAML scenarios against a fresh node.
//
// A scenario is a list of steps (commands and height moves) with the
// expected result or error code of each, followed by assertions on the
// final state. Each run uses an in-memory journal and a fixed session id,
// so the trace and ledger snapshot of a scenario are byte-identical across
// runs and can be compared against golden files.
//
// # Scenario Format
//
//	name: lifecycle
//	description: "Stream drains and both parties rate"
//	period_length: 144
//	steps:
//	  - op: create
//	    caller: alice
//	    args: { recipient: bob, total_amount: 1000, start_block: 100, end_block: 200, payment_per_block: 10 }
//	    expect: { result: 0 }
//	  - op: height
//	    args: { height: 150 }
//	  - op: withdraw
//	    caller: carol
//	    args: { stream_id: 0 }
//	    expect: { error: UNAUTHORIZED }
//	assertions:
//	  - type: stream
//	    stream_id: 0
//	    expect: { status: active, withdrawn_amount: 0 }
//	  - type: trace_count
//	    op: withdraw
//	    count: 1
//
// # Step Ops
//
//   - create: recipient, total_amount, start_block, end_block, payment_per_block
//   - withdraw, cancel: stream_id
//   - refuel: stream_id, extra_amount
//   - record_completion, record_cancellation: stream_id
//   - rate: rated, stream_id, rating
//   - height: height
//
// # Assertion Types
//
//   - trace_count: op appears exactly count times
//   - trace_order: ops appear in the given order
//   - stream, record: engine stream or ledger record by stream_id
//   - sender_stats, recipient_stats: aggregates of principal
//   - global_stats: network-wide aggregate
//   - period: metrics of period
//   - reliability, engagement: derived score of principal, as {score: N}
//   - rating: rating given by rater to rated for stream_id
//
// State assertions use subset semantics over the JSON field names of the
// asserted value.
package harness
