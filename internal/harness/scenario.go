package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/streamledger/internal/ir"
)

// Scenario is a scripted run against a fresh node.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Authority overrides the recording authority. Default: the config default.
	Authority string `yaml:"authority,omitempty"`

	// PeriodLength overrides the analytics period length.
	PeriodLength uint64 `yaml:"period_length,omitempty"`

	// Session is the fixed session id. If empty, "test-session" is used.
	Session string `yaml:"session,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one command or height move.
type Step struct {
	// Op is the step kind (create, withdraw, refuel, cancel,
	// record_completion, record_cancellation, rate, height).
	Op string `yaml:"op"`

	// Caller is the principal issuing the command. Unused by height.
	Caller string `yaml:"caller,omitempty"`

	// Args holds the op's arguments.
	Args map[string]any `yaml:"args"`

	// Expect checks the outcome. If nil the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Result is the expected return value (stream id, amount, total or score).
	Result *uint64 `yaml:"result,omitempty"`

	// Error is the expected error code. Empty means success.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Op and Count are used by trace_count.
	Op    string `yaml:"op,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// Ops is used by trace_order.
	Ops []string `yaml:"ops,omitempty"`

	// StreamID selects the stream for stream, record and rating.
	StreamID *uint64 `yaml:"stream_id,omitempty"`

	// Principal selects the party for stats and score assertions.
	Principal string `yaml:"principal,omitempty"`

	// Rater and Rated select the rating.
	Rater string `yaml:"rater,omitempty"`
	Rated string `yaml:"rated,omitempty"`

	// Period selects the period for period assertions.
	Period *uint64 `yaml:"period,omitempty"`

	// Expect contains expected field values (subset match).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Step op constants.
const (
	OpCreate             = "create"
	OpWithdraw           = "withdraw"
	OpRefuel             = "refuel"
	OpCancel             = "cancel"
	OpRecordCompletion   = "record_completion"
	OpRecordCancellation = "record_cancellation"
	OpRate               = "rate"
	OpHeight             = "height"
)

// Assertion type constants.
const (
	AssertTraceCount     = "trace_count"
	AssertTraceOrder     = "trace_order"
	AssertStream         = "stream"
	AssertRecord         = "record"
	AssertSenderStats    = "sender_stats"
	AssertRecipientStats = "recipient_stats"
	AssertGlobalStats    = "global_stats"
	AssertPeriod         = "period"
	AssertReliability    = "reliability"
	AssertEngagement     = "engagement"
	AssertRating         = "rating"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	required, ok := stepArgs[s.Op]
	if !ok {
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}
	if s.Op != OpHeight && s.Caller == "" {
		return fmt.Errorf("steps[%d]: caller is required for %s", index, s.Op)
	}
	for _, key := range required {
		if _, ok := s.Args[key]; !ok {
			return fmt.Errorf("steps[%d]: %s requires arg %q", index, s.Op, key)
		}
	}
	if s.Expect != nil && s.Expect.Error != "" {
		if ir.ErrorCode(s.Expect.Error).Number() == 0 {
			return fmt.Errorf("steps[%d].expect: unknown error code %q", index, s.Expect.Error)
		}
		if s.Expect.Result != nil {
			return fmt.Errorf("steps[%d].expect: result and error are exclusive", index)
		}
	}
	return nil
}

// stepArgs lists the required args per op.
var stepArgs = map[string][]string{
	OpCreate:             {"recipient", "total_amount", "start_block", "end_block", "payment_per_block"},
	OpWithdraw:           {"stream_id"},
	OpRefuel:             {"stream_id", "extra_amount"},
	OpCancel:             {"stream_id"},
	OpRecordCompletion:   {"stream_id"},
	OpRecordCancellation: {"stream_id"},
	OpRate:               {"rated", "stream_id", "rating"},
	OpHeight:             {"height"},
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
		return nil
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
		return nil
	case AssertStream, AssertRecord:
		if a.StreamID == nil {
			return fmt.Errorf("assertions[%d]: stream_id is required for %s", index, a.Type)
		}
	case AssertSenderStats, AssertRecipientStats, AssertReliability, AssertEngagement:
		if a.Principal == "" {
			return fmt.Errorf("assertions[%d]: principal is required for %s", index, a.Type)
		}
	case AssertPeriod:
		if a.Period == nil {
			return fmt.Errorf("assertions[%d]: period is required for period", index)
		}
	case AssertRating:
		if a.StreamID == nil || a.Rater == "" || a.Rated == "" {
			return fmt.Errorf("assertions[%d]: rater, rated and stream_id are required for rating", index)
		}
	case AssertGlobalStats:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if len(a.Expect) == 0 {
		return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
	}
	return nil
}
