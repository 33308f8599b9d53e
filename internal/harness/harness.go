package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/streamledger/internal/config"
	"github.com/roach88/streamledger/internal/ir"
	"github.com/roach88/streamledger/internal/node"
	"github.com/roach88/streamledger/internal/testutil"
)

// Harness executes one scenario against one node.
type Harness struct {
	node   *node.Node
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory journal with a fixed
// session id. A step whose outcome differs from its expect clause is
// recorded as a failure and execution continues, so one run reports every
// mismatch. Infrastructure failures (journal, config) abort with an error.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	cfg := config.Default()
	cfg.Database = ":memory:"
	if scenario.Authority != "" {
		cfg.Authority = scenario.Authority
	}
	if scenario.PeriodLength != 0 {
		cfg.PeriodLength = scenario.PeriodLength
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n, err := node.Open(ctx, cfg,
		node.WithLogger(logger),
		node.WithIDGenerator(testutil.NewFixedIDGenerator(scenario.Session)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open node: %w", err)
	}
	defer n.Close()

	h := &Harness{node: n, logger: logger}

	result := NewResult()
	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, n) {
		result.AddError(errMsg)
	}
	result.Snapshot = n.Snapshot()
	return result, nil
}

// executeSteps runs every step and checks its expect clause.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		value, err := h.execute(ctx, step)

		code := ir.CodeOf(err)
		if err != nil && code == "" {
			return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}

		result.AddTrace(TraceEvent{
			Step:   i,
			Op:     step.Op,
			Caller: step.Caller,
			Args:   step.Args,
			Result: value,
			Error:  string(code),
		})

		if msg := checkExpect(i, step, value, code); msg != "" {
			result.AddError(msg)
		}

		h.logger.Info("step executed",
			"step", i,
			"op", step.Op,
			"caller", step.Caller,
			"result", value,
			"code", code,
		)
	}
	return nil
}

// checkExpect compares a step outcome with its expect clause and returns a
// failure message, or "" if it matched.
func checkExpect(i int, step Step, value uint64, code ir.ErrorCode) string {
	var want Expect
	if step.Expect != nil {
		want = *step.Expect
	}

	if string(code) != want.Error {
		if want.Error == "" {
			return fmt.Sprintf("step %d (%s): expected success, got %s", i, step.Op, code)
		}
		if code == "" {
			return fmt.Sprintf("step %d (%s): expected %s, got success", i, step.Op, want.Error)
		}
		return fmt.Sprintf("step %d (%s): expected %s, got %s", i, step.Op, want.Error, code)
	}
	if want.Result != nil && *want.Result != value {
		return fmt.Sprintf("step %d (%s): expected result %d, got %d", i, step.Op, *want.Result, value)
	}
	return ""
}

// execute dispatches one step to the node. Argument conversion failures
// are reported as INVALID_ARGUMENT, the same as a malformed command.
func (h *Harness) execute(ctx context.Context, step Step) (uint64, error) {
	a := stepArgReader{args: step.Args}
	caller := ir.Principal(step.Caller)

	switch step.Op {
	case OpCreate:
		recipient := a.principal("recipient")
		total := a.uint("total_amount")
		start := a.uint("start_block")
		end := a.uint("end_block")
		rate := a.uint("payment_per_block")
		if a.err != nil {
			return 0, a.err
		}
		id, err := h.node.CreateStream(ctx, caller, recipient, total, start, end, rate)
		return uint64(id), err

	case OpWithdraw:
		id := a.stream()
		if a.err != nil {
			return 0, a.err
		}
		return h.node.Withdraw(ctx, caller, id)

	case OpRefuel:
		id := a.stream()
		extra := a.uint("extra_amount")
		if a.err != nil {
			return 0, a.err
		}
		return h.node.Refuel(ctx, caller, id, extra)

	case OpCancel:
		id := a.stream()
		if a.err != nil {
			return 0, a.err
		}
		return h.node.Cancel(ctx, caller, id)

	case OpRecordCompletion:
		id := a.stream()
		if a.err != nil {
			return 0, a.err
		}
		return h.node.RecordCompletion(ctx, caller, id)

	case OpRecordCancellation:
		id := a.stream()
		if a.err != nil {
			return 0, a.err
		}
		return h.node.RecordCancellation(ctx, caller, id)

	case OpRate:
		rated := a.principal("rated")
		id := a.stream()
		rating := a.uint("rating")
		if a.err != nil {
			return 0, a.err
		}
		return h.node.RateUser(ctx, caller, rated, id, rating)

	case OpHeight:
		height := a.uint("height")
		if a.err != nil {
			return 0, a.err
		}
		return height, h.node.SetHeight(height)

	default:
		return 0, fmt.Errorf("unknown op %q", step.Op)
	}
}

// stepArgReader converts YAML-decoded args and keeps the first failure.
type stepArgReader struct {
	args map[string]any
	err  error
}

func (a *stepArgReader) uint(key string) uint64 {
	if a.err != nil {
		return 0
	}
	v, err := toUint(a.args[key])
	if err != nil {
		a.err = ir.NewError(ir.ErrCodeInvalidArgument, "arg %q: %v", key, err)
	}
	return v
}

func (a *stepArgReader) principal(key string) ir.Principal {
	if a.err != nil {
		return ""
	}
	s, ok := a.args[key].(string)
	if !ok {
		a.err = ir.NewError(ir.ErrCodeInvalidArgument, "arg %q: want string, got %T", key, a.args[key])
	}
	return ir.Principal(s)
}

func (a *stepArgReader) stream() ir.StreamID {
	return ir.StreamID(a.uint("stream_id"))
}

// toUint converts a YAML scalar to uint64. YAML decodes integers as int,
// int64 or uint64 depending on magnitude; floats are rejected.
func toUint(v any) (uint64, error) {
	switch n := v.(type) {
	case int:
		if n < 0 {
			return 0, fmt.Errorf("negative value %d", n)
		}
		return uint64(n), nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("negative value %d", n)
		}
		return uint64(n), nil
	case uint64:
		return n, nil
	case nil:
		return 0, fmt.Errorf("missing value")
	default:
		return 0, fmt.Errorf("want integer, got %T", v)
	}
}
