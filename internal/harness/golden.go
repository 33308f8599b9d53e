package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/streamledger/internal/ir"
)

// GoldenSnapshot is what a golden file pins: the trace of every step and
// the final ledger state.
type GoldenSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
	Snapshot     any          `json:"snapshot"`
}

// MarshalGolden renders the scenario result as RFC 8785 canonical JSON.
func MarshalGolden(scenarioName string, result *Result) ([]byte, error) {
	snapshot := GoldenSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Snapshot:     result.Snapshot,
	}

	// Round-trip through encoding/json so nested structs become plain
	// objects that MarshalCanonical accepts.
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal golden: %w", err)
	}
	obj, err := ir.UnmarshalArgs(data)
	if err != nil {
		return nil, fmt.Errorf("marshal golden: %w", err)
	}
	return ir.MarshalCanonical(obj)
}

// RunWithGolden executes a scenario and compares its trace and final
// ledger snapshot against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the output doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalGolden(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
