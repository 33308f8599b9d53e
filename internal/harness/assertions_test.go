package harness

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamledger/internal/config"
	"github.com/roach88/streamledger/internal/node"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Step: 0, Op: OpCreate, Caller: "alice"},
		{Step: 1, Op: OpHeight},
		{Step: 2, Op: OpWithdraw, Caller: "bob", Result: 50},
		{Step: 3, Op: OpWithdraw, Caller: "carol", Error: "UNAUTHORIZED"},
		{Step: 4, Op: OpCancel, Caller: "alice"},
	}
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Op: OpWithdraw, Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Op: OpRate, Count: 0}))

	err := assertTraceCount(trace, Assertion{Op: OpWithdraw, Count: 1})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "1 occurrences of withdraw", ae.Expected)
	assert.Equal(t, "2 occurrences", ae.Actual)
	assert.Contains(t, err.Error(), "-> UNAUTHORIZED")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Ops: []string{OpCreate, OpWithdraw, OpCancel}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Ops: []string{OpHeight, OpCancel}}))

	err := assertTraceOrder(trace, Assertion{Ops: []string{OpCancel, OpCreate}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(trace, Assertion{Ops: []string{OpCreate, OpRate}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing op: rate")
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"int matches number", 1000, json.Number("1000"), true},
		{"int mismatch", 999, json.Number("1000"), false},
		{"uint64 max", uint64(18446744073709551615), json.Number("18446744073709551615"), true},
		{"string", "active", "active", true},
		{"string mismatch", "active", "cancelled", false},
		{"bool", true, true, true},
		{"bool vs number", true, json.Number("1"), false},
		{"int vs string", 1, "1", false},
		{"unsupported expected", 1.5, json.Number("1.5"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual))
		})
	}
}

func openTestNode(t *testing.T) *node.Node {
	t.Helper()
	cfg := config.Default()
	cfg.Database = ":memory:"
	n, err := node.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

func TestAssertState(t *testing.T) {
	n := openTestNode(t)
	ctx := context.Background()
	_, err := n.CreateStream(ctx, "alice", "bob", 1000, 0, 100, 10)
	require.NoError(t, err)

	tests := []struct {
		name      string
		assertion Assertion
		errMsg    string
	}{
		{
			name:      "stream matches",
			assertion: Assertion{Type: AssertStream, StreamID: u64(0), Expect: map[string]any{"status": "active", "total_amount": 1000}},
		},
		{
			name:      "stream mismatch",
			assertion: Assertion{Type: AssertStream, StreamID: u64(0), Expect: map[string]any{"status": "completed"}},
			errMsg:    "stream=0 status = completed",
		},
		{
			name:      "missing stream",
			assertion: Assertion{Type: AssertStream, StreamID: u64(9), Expect: map[string]any{"status": "active"}},
			errMsg:    "NOT_FOUND",
		},
		{
			name:      "unknown field",
			assertion: Assertion{Type: AssertRecord, StreamID: u64(0), Expect: map[string]any{"colour": "red"}},
			errMsg:    `field "colour" not present`,
		},
		{
			name:      "sender stats",
			assertion: Assertion{Type: AssertSenderStats, Principal: "alice", Expect: map[string]any{"total_amount_sent": 1000}},
		},
		{
			name:      "unseen recipient is neutral",
			assertion: Assertion{Type: AssertRecipientStats, Principal: "carol", Expect: map[string]any{"reputation_score": 50}},
		},
		{
			name:      "reliability with open stream",
			assertion: Assertion{Type: AssertReliability, Principal: "alice", Expect: map[string]any{"score": 0}},
		},
		{
			name:      "engagement neutral",
			assertion: Assertion{Type: AssertEngagement, Principal: "bob", Expect: map[string]any{"score": 50}},
		},
		{
			name:      "period",
			assertion: Assertion{Type: AssertPeriod, Period: u64(0), Expect: map[string]any{"total_volume": 1000}},
		},
		{
			name:      "missing rating",
			assertion: Assertion{Type: AssertRating, Rater: "bob", Rated: "alice", StreamID: u64(0), Expect: map[string]any{"rating": 5}},
			errMsg:    "rating not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertState(n, tt.assertion)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestEvaluateAssertions(t *testing.T) {
	n := openTestNode(t)
	result := NewResult()
	result.AddTrace(TraceEvent{Op: OpHeight})

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Op: OpHeight, Count: 1},
		{Type: AssertGlobalStats, Expect: map[string]any{"total_streams": 1}},
		{Type: "bogus", Expect: map[string]any{"x": 1}},
	}, n)

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "total_streams = 1")
	assert.Contains(t, errs[1], `unknown assertion type "bogus"`)

	errs = EvaluateAssertions(result, []Assertion{
		{Type: AssertGlobalStats, Expect: map[string]any{"total_streams": 0}},
	}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires a node")
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1",
		Actual:   "2",
		Trace:    []TraceEvent{{Step: 0, Op: OpWithdraw, Caller: "bob", Result: 7}},
	}
	out := err.Error()
	assert.Contains(t, out, "Assertion failed: trace_count")
	assert.Contains(t, out, "[0] withdraw bob")
	assert.Contains(t, out, "-> 7")

}
