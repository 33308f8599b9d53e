package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../../testdata/scenarios"

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runCLI(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentPath(t *testing.T) {
	_, err := runCLI(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := runCLI(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandFixtures(t *testing.T) {
	out, err := runCLI(t, "test", scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ lifecycle")
	assert.Contains(t, out, "✓ cancellation")
	assert.Contains(t, out, "✓ authority")
	assert.Contains(t, out, "Test Summary: 3 passed, 0 failed, 3 total")
}

func TestTestCommandFilterJSON(t *testing.T) {
	out, err := runCLI(t, "test", scenariosDir, "--filter", "cancel*", "--format", "json")
	require.NoError(t, err)

	var result TestResult
	decodeData(t, out, &result)
	assert.Equal(t, 1, result.Total)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "cancellation", result.Scenarios[0].Name)
	assert.True(t, result.Scenarios[0].Pass)
}

const failingScenario = `name: failing
description: "Withdraw before the stream starts"
steps:
  - op: create
    caller: alice
    args: { recipient: bob, total_amount: 100, start_block: 10, end_block: 20, payment_per_block: 10 }
  - op: withdraw
    caller: bob
    args: { stream_id: 0 }
    expect: { result: 10 }
assertions:
  - type: trace_count
    op: withdraw
    count: 1
`

func TestTestCommandFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "failing.yaml"), []byte(failingScenario), 0644))

	out, err := runCLI(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ failing")
	assert.Contains(t, out, "step 1 (withdraw): expected success, got INVALID_ARGUMENT")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\nstepz: []\n"), 0644))

	out, err := runCLI(t, "test", dir, "--format", "json")
	require.Error(t, err)

	resp := decodeResponse(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestTestCommandGoldenUpdateAndCompare(t *testing.T) {
	dir := t.TempDir()
	data, err := os.ReadFile(filepath.Join(scenariosDir, "lifecycle.yaml"))
	require.NoError(t, err)
	scenarioPath := filepath.Join(dir, "lifecycle.yaml")
	require.NoError(t, os.WriteFile(scenarioPath, data, 0644))

	out, err := runCLI(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ lifecycle (golden updated)")

	golden, err := os.ReadFile(goldenFilePath(scenarioPath))
	require.NoError(t, err)
	pinned, err := os.ReadFile("../harness/testdata/golden/lifecycle.golden")
	require.NoError(t, err)
	assert.Equal(t, string(pinned), string(golden))

	out, err = runCLI(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ lifecycle")

	require.NoError(t, os.WriteFile(goldenFilePath(scenarioPath), []byte(`{"scenario_name":"lifecycle"}`), 0644))
	out, err = runCLI(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("a", "b", "golden", "x.golden"), goldenFilePath(filepath.Join("a", "b", "x.yaml")))
}
