package harness

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/streamledger/internal/ir"
	"github.com/roach88/streamledger/internal/node"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			outcome := fmt.Sprintf("-> %d", event.Result)
			if event.Error != "" {
				outcome = "-> " + event.Error
			}
			fmt.Fprintf(&buf, "  [%d] %s %s %v %s\n", event.Step, event.Op, event.Caller, event.Args, outcome)
		}
	}
	return buf.String()
}

// assertTraceCount checks that op was executed exactly Count times,
// rejected steps included.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Op == assertion.Op {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that the first occurrence of each op appears in
// the given order. Intervening steps are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Op]; !seen {
			positions[event.Op] = i + 1
		}
	}

	for _, op := range assertion.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", assertion.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Ops); i++ {
		prev, curr := assertion.Ops[i-1], assertion.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", assertion.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertState fetches the asserted value from n and compares its JSON
// fields against Expect.
func assertState(n *node.Node, assertion Assertion) error {
	actual, err := stateValue(n, assertion)
	if err != nil {
		return &AssertionError{
			Type:     assertion.Type,
			Expected: fmt.Sprintf("%s %s", assertion.Type, describeTarget(assertion)),
			Actual:   err.Error(),
		}
	}

	fields, err := toFields(actual)
	if err != nil {
		return fmt.Errorf("%s: %w", assertion.Type, err)
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expected := assertion.Expect[key]
		got, exists := fields[key]
		if !exists {
			return &AssertionError{
				Type:     assertion.Type,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in %s", key, describeTarget(assertion)),
			}
		}
		if !stateValuesEqual(expected, got) {
			return &AssertionError{
				Type:     assertion.Type,
				Expected: fmt.Sprintf("%s %s = %v", describeTarget(assertion), key, expected),
				Actual:   fmt.Sprintf("%s %s = %v", describeTarget(assertion), key, got),
			}
		}
	}
	return nil
}

// stateValue reads the value an assertion targets.
func stateValue(n *node.Node, a Assertion) (any, error) {
	p := ir.Principal(a.Principal)

	switch a.Type {
	case AssertStream:
		return n.Stream(ir.StreamID(*a.StreamID))
	case AssertRecord:
		return n.StreamRecord(ir.StreamID(*a.StreamID))
	case AssertSenderStats:
		return n.SenderStats(p), nil
	case AssertRecipientStats:
		return n.RecipientStats(p), nil
	case AssertGlobalStats:
		return n.GlobalStats(), nil
	case AssertPeriod:
		return n.PeriodMetrics(*a.Period), nil
	case AssertReliability:
		return map[string]uint64{"score": n.SenderReliability(p)}, nil
	case AssertEngagement:
		return map[string]uint64{"score": n.RecipientEngagement(p)}, nil
	case AssertRating:
		r, ok := n.Rating(ir.Principal(a.Rater), ir.Principal(a.Rated), ir.StreamID(*a.StreamID))
		if !ok {
			return nil, fmt.Errorf("rating not found")
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// toFields flattens v to its top-level JSON fields. Numbers stay
// json.Number so uint64 values compare exactly.
func toFields(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	args, err := ir.UnmarshalArgs(data)
	if err != nil {
		return nil, err
	}
	return args, nil
}

// describeTarget renders the selector of an assertion.
func describeTarget(a Assertion) string {
	var parts []string
	if a.StreamID != nil {
		parts = append(parts, fmt.Sprintf("stream=%d", *a.StreamID))
	}
	if a.Principal != "" {
		parts = append(parts, "principal="+a.Principal)
	}
	if a.Rater != "" {
		parts = append(parts, "rater="+a.Rater, "rated="+a.Rated)
	}
	if a.Period != nil {
		parts = append(parts, fmt.Sprintf("period=%d", *a.Period))
	}
	if len(parts) == 0 {
		return "(global)"
	}
	return strings.Join(parts, " ")
}

// stateValuesEqual compares a YAML-decoded expected value with a
// JSON-decoded actual one. Integers compare by decimal text, so a YAML int
// matches a json.Number of the same value.
func stateValuesEqual(expected, actual any) bool {
	switch exp := expected.(type) {
	case int, int64, uint64:
		num, ok := actual.(json.Number)
		return ok && num.String() == fmt.Sprint(exp)
	case string:
		s, ok := actual.(string)
		return ok && s == exp
	case bool:
		b, ok := actual.(bool)
		return ok && b == exp
	default:
		return false
	}
}

// EvaluateAssertions evaluates all assertions against the result and the
// final state of n. Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, n *node.Node) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		default:
			if n == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a node", i, assertion.Type)
			} else {
				err = assertState(n, assertion)
			}
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
